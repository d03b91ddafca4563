package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/model"
)

const uploadJobColumns = `
	id, advertiser_id, asset_path, remote_media_id, status,
	attempts, last_error, next_retry_at, created_at, updated_at`

func CreateUploadJob(advertiserID int, assetPath string) (model.UploadJob, error) {
	var j model.UploadJob
	q := `
	INSERT INTO upload_jobs (advertiser_id, asset_path, status, attempts, created_at, updated_at)
	VALUES ($1, $2, $3, 0, now(), now())
	RETURNING ` + uploadJobColumns + `;`
	if err := DB.Get(&j, q, advertiserID, assetPath, model.UploadStatusQueued); err != nil {
		log.Error().Err(err).Int("advertiser_id", advertiserID).Msg("[db] failed to create upload job")
		return model.UploadJob{}, err
	}
	return j, nil
}

func GetUploadJobByID(id int) (model.UploadJob, error) {
	var j model.UploadJob
	err := DB.Get(&j, `SELECT `+uploadJobColumns+` FROM upload_jobs WHERE id = $1`, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Error().Err(err).Int("job_id", id).Msg("[db] failed to get upload job")
	}
	return j, err
}

// LatestUploadJobForAdvertiser returns the most recent job for an
// advertiser, or sql.ErrNoRows when none exists.
func LatestUploadJobForAdvertiser(advertiserID int) (model.UploadJob, error) {
	var j model.UploadJob
	err := DB.Get(&j, `
		SELECT `+uploadJobColumns+`
		FROM upload_jobs
		WHERE advertiser_id = $1
		ORDER BY id DESC
		LIMIT 1`, advertiserID)
	return j, err
}

// ListDueUploadJobs returns jobs the background runner should pick up:
// freshly queued ones plus retryable failures whose backoff has lapsed.
func ListDueUploadJobs(now time.Time) ([]model.UploadJob, error) {
	var jobs []model.UploadJob
	err := DB.Select(&jobs, `
		SELECT `+uploadJobColumns+`
		FROM upload_jobs
		WHERE status = $1
		   OR (status = $2 AND next_retry_at <= $3)
		ORDER BY id`, model.UploadStatusQueued, model.UploadStatusRetryableFail, now)
	if err != nil {
		log.Error().Err(err).Msg("[db] failed to list due upload jobs")
	}
	return jobs, err
}

// UpdateUploadJobState persists one state-machine transition.
func UpdateUploadJobState(id int, status string, remoteMediaID *int64, attempts int, lastError *string, nextRetryAt *time.Time) error {
	_, err := DB.Exec(`
		UPDATE upload_jobs
		SET status          = $2,
		    remote_media_id = COALESCE($3, remote_media_id),
		    attempts        = $4,
		    last_error      = $5,
		    next_retry_at   = $6,
		    updated_at      = now()
		WHERE id = $1`, id, status, remoteMediaID, attempts, lastError, nextRetryAt)
	if err != nil {
		log.Error().Err(err).Int("job_id", id).Str("status", status).Msg("[db] failed to update upload job")
	}
	return err
}
