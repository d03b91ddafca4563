package yodeck

import (
	"encoding/json"
	"strings"
)

// Playlist is the remote playlist record as returned by /playlists/.
type Playlist struct {
	ID    int64          `json:"id"`
	Name  string         `json:"name"`
	Items []PlaylistItem `json:"items,omitempty"`
}

// PlaylistItem is one entry of a remote playlist. The PATCH body uses
// full-replace semantics: the items array sent is the items array kept.
type PlaylistItem struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Duration int    `json:"duration,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// ScreenContent is the content source of a remote player. SourceType
// "playlist" is the only mode this deployment allows; "layout" is the
// platform's native mode and must trigger self-heal when observed.
type ScreenContent struct {
	SourceType string `json:"source_type"`
	SourceID   int64  `json:"source_id"`
}

const (
	SourceTypePlaylist = "playlist"
	SourceTypeLayout   = "layout"
)

// ScreenState is the live state of a remote player.
type ScreenState struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Content ScreenContent `json:"screen_content"`
}

// Media is the canonical media record from GET /media/{id}/.
type Media struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// MediaUploadTicket is returned by media creation: where to PUT the bytes.
type MediaUploadTicket struct {
	MediaID   int64  `json:"media_id"`
	UploadURL string `json:"upload_url"`
}

// Media readiness as reported by /media/{id}/status/.
const (
	MediaStatusReady      = "ready"
	MediaStatusProcessing = "processing"
	MediaStatusFailed     = "failed"
)

// MediaStatus is the decoded readiness of an uploaded media object,
// plus which response shape produced it.
type MediaStatus struct {
	Status string
	Shape  string
}

// Ready reports whether the platform claims the object is usable.
// Callers must still final-verify with GET /media/{id}/.
func (m MediaStatus) Ready() bool {
	return m.Status == MediaStatusReady
}

// Failed reports a permanent remote-side processing failure.
func (m MediaStatus) Failed() bool {
	return m.Status == MediaStatusFailed
}

// DecodeMediaStatus decodes the /media/{id}/status/ body. The response
// shape has drifted across platform versions, so known shapes are tried
// in order and the matching one is recorded for observability.
func DecodeMediaStatus(raw []byte) (MediaStatus, error) {
	// v2: {"status": "ready"}
	var v2 struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &v2); err == nil && v2.Status != "" {
		return MediaStatus{Status: normalizeMediaStatus(v2.Status), Shape: "v2_status"}, nil
	}

	// v1: {"media": {"state": "READY"}}
	var v1 struct {
		Media struct {
			State string `json:"state"`
		} `json:"media"`
	}
	if err := json.Unmarshal(raw, &v1); err == nil && v1.Media.State != "" {
		return MediaStatus{Status: normalizeMediaStatus(v1.Media.State), Shape: "v1_media_state"}, nil
	}

	// legacy: {"converted": true}
	var legacy struct {
		Converted *bool `json:"converted"`
	}
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Converted != nil {
		status := MediaStatusProcessing
		if *legacy.Converted {
			status = MediaStatusReady
		}
		return MediaStatus{Status: status, Shape: "legacy_converted"}, nil
	}

	return MediaStatus{}, &APIError{Kind: KindProtocolError, Path: "/media/status", Body: Truncate(string(raw), 200)}
}

func normalizeMediaStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ready", "done", "finished":
		return MediaStatusReady
	case "failed", "error":
		return MediaStatusFailed
	default:
		return MediaStatusProcessing
	}
}

// Truncate bounds a diagnostic string to n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
