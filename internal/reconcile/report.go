package reconcile

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Step names used in fail-fast reporting. A report's Error names
// exactly which step aborted the run.
const (
	StepSharedPlaylistGuard = "shared_playlist_guard"
	StepEnsurePlaylists     = "ensure_playlists"
	StepSeedBaseline        = "seed_baseline"
	StepDiffAds             = "diff_ads"
	StepRebuildCombined     = "rebuild_combined"
	StepAssignPush          = "assign_push"
	StepVerify              = "verify"
)

// StepError pins a failure to the reconciliation step that produced it.
type StepError struct {
	Step string `json:"step"`
	Err  error  `json:"-"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// VerifyError is the hard-verify mismatch. It is never downgraded to a
// warning: a false success here means an advertiser is billed for an
// ad that never shows.
type VerifyError struct {
	SourceType      string  `json:"source_type"`
	SourceID        int64   `json:"source_id"`
	WantPlaylistID  int64   `json:"want_playlist_id"`
	MissingMediaIDs []int64 `json:"missing_media_ids"`
}

func (e *VerifyError) Error() string {
	if len(e.MissingMediaIDs) > 0 {
		return fmt.Sprintf("VERIFY_MISMATCH: media %v missing from live playlist %d", e.MissingMediaIDs, e.WantPlaylistID)
	}
	return fmt.Sprintf("VERIFY_MISMATCH: screen source is %s/%d, want playlist/%d", e.SourceType, e.SourceID, e.WantPlaylistID)
}

// ErrLayoutForbidden is returned when a screen is found in the
// platform's native layout mode and self-heal failed to converge it
// back to playlist mode. Dependent publish operations must not proceed.
var ErrLayoutForbidden = errors.New("LAYOUT_FORBIDDEN: self-heal failed")

// Report is the per-invocation outcome of one screen's reconciliation.
// It is logged and returned, never persisted as its own entity.
type Report struct {
	RunID           string     `json:"run_id"`
	ScreenID        int        `json:"screen_id"`
	PlayerID        int64      `json:"player_id"`
	Desired         []int64    `json:"desired_media_ids"`
	BeforeItems     []int64    `json:"before_item_ids"`
	AfterItems      []int64    `json:"after_item_ids"`
	MissingMediaIDs []int64    `json:"missing_media_ids,omitempty"`
	Verified        bool       `json:"verified"`
	Healed          bool       `json:"healed"`
	AdsWritten      bool       `json:"ads_written"`
	CombinedWritten bool       `json:"combined_written"`
	Error           *StepError `json:"error,omitempty"`

	// layoutDetected flags a forbidden layout-mode sighting during
	// verify so the engine knows to self-heal.
	layoutDetected bool
}

func newReport(screenID int, playerID int64, desired []int64) *Report {
	return &Report{
		RunID:    uuid.NewString(),
		ScreenID: screenID,
		PlayerID: playerID,
		Desired:  desired,
	}
}

func (r *Report) fail(step string, err error) *Report {
	r.Error = &StepError{Step: step, Err: err}
	var ve *VerifyError
	if errors.As(err, &ve) {
		r.MissingMediaIDs = ve.MissingMediaIDs
	}
	return r
}
