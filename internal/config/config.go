package config

import "time"

// EngineConfig carries every knob the reconciliation and upload paths
// need. It is built once in main and injected; nothing below the
// entrypoint reads the process environment.
type EngineConfig struct {
	// BaselineMediaIDs is the minimum media set every baseline playlist
	// must contain. Missing entries are seeded, extra entries are left
	// alone (baseline editing is a manual operator action).
	BaselineMediaIDs []int64

	// MaxAdsPerScreen caps how many advertiser items one screen rotates.
	MaxAdsPerScreen int

	// DefaultItemDuration is applied to playlist items the remote did
	// not report a duration for, in seconds.
	DefaultItemDuration int

	// InterScreenDelay is slept between screens in batch reconciliation
	// to stay under the platform's undocumented rate limits.
	InterScreenDelay time.Duration

	// RequestTimeout bounds every single remote API call.
	RequestTimeout time.Duration

	// PollWindow bounds the total wall-clock time spent waiting for an
	// uploaded media object to become ready, across all poll attempts.
	PollWindow time.Duration

	// MaxUploadAttempts is the retry ceiling before PERMANENT_FAIL.
	MaxUploadAttempts int

	// MinAssetBytes rejects obviously truncated uploads before any
	// remote call is made.
	MinAssetBytes int64

	// AllowedMimeTypes whitelists source files for upload.
	AllowedMimeTypes []string
}

// Defaults returns the production configuration. Tests override
// individual fields as needed.
func Defaults() EngineConfig {
	return EngineConfig{
		MaxAdsPerScreen:     10,
		DefaultItemDuration: 15,
		InterScreenDelay:    2 * time.Second,
		RequestTimeout:      30 * time.Second,
		PollWindow:          10 * time.Minute,
		MaxUploadAttempts:   5,
		MinAssetBytes:       10 * 1024,
		AllowedMimeTypes:    []string{"video/mp4", "video/quicktime", "video/webm"},
	}
}
