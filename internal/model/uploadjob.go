package model

import "time"

// Upload job states. A job only ever moves forward except for the
// UPLOADING/POLLING -> RETRYABLE_FAIL -> UPLOADING loop.
const (
	UploadStatusQueued        = "QUEUED"
	UploadStatusUploading     = "UPLOADING"
	UploadStatusPolling       = "POLLING"
	UploadStatusReady         = "READY"
	UploadStatusRetryableFail = "RETRYABLE_FAIL"
	UploadStatusPermanentFail = "PERMANENT_FAIL"
)

// UploadJob tracks one attempt chain to get an advertiser's video into
// the remote platform. Rows are never deleted, they double as an audit
// trail of what was uploaded when and why it failed.
type UploadJob struct {
	ID            int        `db:"id"              json:"id"`
	AdvertiserID  int        `db:"advertiser_id"   json:"advertiser_id"`
	AssetPath     string     `db:"asset_path"      json:"asset_path"`
	RemoteMediaID *int64     `db:"remote_media_id" json:"remote_media_id"`
	Status        string     `db:"status"          json:"status"`
	Attempts      int        `db:"attempts"        json:"attempts"`
	LastError     *string    `db:"last_error"      json:"last_error"`
	NextRetryAt   *time.Time `db:"next_retry_at"   json:"next_retry_at"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"      json:"updated_at"`
}

// Terminal reports whether the job can make no further progress.
func (j *UploadJob) Terminal() bool {
	return j.Status == UploadStatusReady || j.Status == UploadStatusPermanentFail
}
