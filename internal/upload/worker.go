// Package upload drives the job state machine that gets an
// advertiser's video into the remote platform. A media ID is only ever
// written back as canonical after final verification; every terminal
// failure clears it so local state never claims an asset is live when
// the platform cannot serve it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/config"
	"github.com/doohlabs/playsync/internal/model"
	"github.com/doohlabs/playsync/internal/yodeck"
)

// Upload-path failure codes. They feed the retry/backoff schedule.
var (
	ErrUploadStuck     = errors.New("UPLOAD_STUCK")
	ErrPollTimeout     = errors.New("POLL_TIMEOUT")
	ErrFinalVerify404  = errors.New("FINAL_VERIFY_404")
	ErrInvalidAsset    = errors.New("invalid source asset")
	ErrRemoteMediaFail = errors.New("remote media processing failed")
)

// The builtin mime table carries no video entries, so resolution of
// upload extensions must not depend on the host's /etc/mime.types.
func init() {
	mime.AddExtensionType(".mp4", "video/mp4")
	mime.AddExtensionType(".mov", "video/quicktime")
	mime.AddExtensionType(".webm", "video/webm")
}

// backoffSchedule is the fixed retry spacing; attempts past its end
// reuse the final (capped) entry.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
}

// NextRetryDelay returns the backoff delay after the given attempt
// count (1-based).
func NextRetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(backoffSchedule) {
		attempts = len(backoffSchedule)
	}
	return backoffSchedule[attempts-1]
}

// Clock abstracts time so the backoff and polling schedules are
// testable without real delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// Platform is the media slice of the remote API.
type Platform interface {
	CreateMedia(ctx context.Context, name string) (*yodeck.MediaUploadTicket, error)
	UploadMediaFile(ctx context.Context, uploadURL string, body io.Reader, size int64) error
	CompleteMediaUpload(ctx context.Context, mediaID int64) error
	GetMediaStatus(ctx context.Context, mediaID int64) (yodeck.MediaStatus, error)
	GetMedia(ctx context.Context, mediaID int64) (*yodeck.Media, error)
}

// JobStore is the persistence slice the worker mutates.
type JobStore interface {
	UpdateUploadJobState(id int, status string, remoteMediaID *int64, attempts int, lastError *string, nextRetryAt *time.Time) error
	SetCanonicalMediaID(advertiserID int, mediaID int64) error
	ClearCanonicalMediaID(advertiserID int) error
}

// AssetStore supplies raw video bytes by storage path.
type AssetStore interface {
	Open(path string) (io.ReadCloser, int64, error)
}

type Worker struct {
	platform Platform
	store    JobStore
	assets   AssetStore
	cfg      config.EngineConfig
	clock    Clock
}

func NewWorker(platform Platform, store JobStore, assets AssetStore, cfg config.EngineConfig, clock Clock) *Worker {
	if clock == nil {
		clock = RealClock
	}
	return &Worker{platform: platform, store: store, assets: assets, cfg: cfg, clock: clock}
}

// Process advances one job as far as it can go in a single pass:
// QUEUED -> UPLOADING -> POLLING -> READY, or to RETRYABLE_FAIL /
// PERMANENT_FAIL. The updated job is returned.
func (w *Worker) Process(ctx context.Context, job model.UploadJob) (model.UploadJob, error) {
	if job.Terminal() {
		return job, nil
	}

	// every pass consumes an attempt, failures before the remote call
	// included, so the retry ceiling bounds unreadable-asset loops too
	job.Attempts++

	log.Info().
		Int("job_id", job.ID).
		Int("advertiser_id", job.AdvertiserID).
		Str("status", job.Status).
		Int("attempts", job.Attempts).
		Msg("[upload] processing job")

	// pre-upload validation: a bad source file cannot be fixed by
	// retrying, it goes straight to PERMANENT_FAIL
	if err := w.validateAsset(job.AssetPath); err != nil {
		if errors.Is(err, ErrInvalidAsset) {
			return w.permanentFail(job, err)
		}
		return w.retryableFail(job, err)
	}

	mediaID, err := w.uploadOnce(ctx, &job)
	if err != nil {
		return w.retryableFail(job, err)
	}

	if err := w.poll(ctx, &job, mediaID); err != nil {
		return w.retryableFail(job, err)
	}

	// READY: write the canonical media ID through to the advertiser
	job.Status = model.UploadStatusReady
	job.RemoteMediaID = &mediaID
	if err := w.store.UpdateUploadJobState(job.ID, job.Status, &mediaID, job.Attempts, nil, nil); err != nil {
		return job, err
	}
	if err := w.store.SetCanonicalMediaID(job.AdvertiserID, mediaID); err != nil {
		return job, err
	}
	log.Info().
		Int("job_id", job.ID).
		Int64("media_id", mediaID).
		Msg("[upload] media ready and verified")
	return job, nil
}

func (w *Worker) validateAsset(path string) error {
	rc, size, err := w.assets.Open(path)
	if err != nil {
		// a storage read failure is transient, not a bad file
		return fmt.Errorf("open asset for validation: %w", err)
	}
	rc.Close()

	if size < w.cfg.MinAssetBytes {
		return fmt.Errorf("%w: %d bytes is below the %d byte minimum", ErrInvalidAsset, size, w.cfg.MinAssetBytes)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	for _, allowed := range w.cfg.AllowedMimeTypes {
		if mimeType == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: mime type %q is not allowed", ErrInvalidAsset, mimeType)
}

// uploadOnce performs the UPLOADING phase: create the remote media
// record, obtain the write URL, stream the bytes, signal completion.
func (w *Worker) uploadOnce(ctx context.Context, job *model.UploadJob) (int64, error) {
	job.Status = model.UploadStatusUploading
	if err := w.store.UpdateUploadJobState(job.ID, job.Status, nil, job.Attempts, nil, nil); err != nil {
		return 0, err
	}

	ticket, err := w.platform.CreateMedia(ctx, fmt.Sprintf("advertiser-%d-%s", job.AdvertiserID, filepath.Base(job.AssetPath)))
	if err != nil {
		return 0, fmt.Errorf("create media record: %w", err)
	}

	rc, size, err := w.assets.Open(job.AssetPath)
	if err != nil {
		return 0, fmt.Errorf("open asset: %w", err)
	}
	defer rc.Close()

	if err := w.platform.UploadMediaFile(ctx, ticket.UploadURL, rc, size); err != nil {
		return 0, fmt.Errorf("stream asset: %w", err)
	}
	if err := w.platform.CompleteMediaUpload(ctx, ticket.MediaID); err != nil {
		return 0, fmt.Errorf("complete upload: %w", err)
	}
	return ticket.MediaID, nil
}

// poll waits for the platform to report the media ready, then performs
// final verification against the canonical media endpoint. A "ready"
// status alone is not trusted: the platform has been observed claiming
// readiness while the object still 404s.
func (w *Worker) poll(ctx context.Context, job *model.UploadJob, mediaID int64) error {
	job.Status = model.UploadStatusPolling
	if err := w.store.UpdateUploadJobState(job.ID, job.Status, &mediaID, job.Attempts, nil, nil); err != nil {
		return err
	}

	deadline := w.clock.Now().Add(w.cfg.PollWindow)
	interval := 5 * time.Second

	for {
		status, err := w.platform.GetMediaStatus(ctx, mediaID)
		if err != nil {
			return fmt.Errorf("fetch media status: %w", err)
		}
		if status.Failed() {
			return fmt.Errorf("%w: media %d", ErrRemoteMediaFail, mediaID)
		}
		if status.Ready() {
			break
		}

		if w.clock.Now().After(deadline) {
			return fmt.Errorf("%w: media %d not ready within %s", ErrPollTimeout, mediaID, w.cfg.PollWindow)
		}
		w.clock.Sleep(interval)
		if interval < time.Minute {
			interval *= 2
		}
	}

	// final verification
	if _, err := w.platform.GetMedia(ctx, mediaID); err != nil {
		if yodeck.IsNotFound(err) {
			return fmt.Errorf("%w: media %d reported ready but is not retrievable", ErrFinalVerify404, mediaID)
		}
		return fmt.Errorf("final verify media %d: %w", mediaID, err)
	}
	return nil
}

// retryableFail schedules the next attempt, or terminates the job when
// the attempt ceiling is reached.
func (w *Worker) retryableFail(job model.UploadJob, cause error) (model.UploadJob, error) {
	if job.Attempts >= w.cfg.MaxUploadAttempts {
		return w.permanentFail(job, fmt.Errorf("%w after %d attempts: %v", ErrUploadStuck, job.Attempts, cause))
	}

	msg := cause.Error()
	retryAt := w.clock.Now().Add(NextRetryDelay(job.Attempts))
	job.Status = model.UploadStatusRetryableFail
	job.LastError = &msg
	job.NextRetryAt = &retryAt

	log.Warn().
		Int("job_id", job.ID).
		Int("attempts", job.Attempts).
		Time("next_retry_at", retryAt).
		Err(cause).
		Msg("[upload] attempt failed, scheduling retry")

	if err := w.store.UpdateUploadJobState(job.ID, job.Status, nil, job.Attempts, &msg, &retryAt); err != nil {
		return job, err
	}
	return job, nil
}

// permanentFail terminates the job and clears any previously cached
// canonical media ID.
func (w *Worker) permanentFail(job model.UploadJob, cause error) (model.UploadJob, error) {
	msg := cause.Error()
	job.Status = model.UploadStatusPermanentFail
	job.LastError = &msg

	log.Error().
		Int("job_id", job.ID).
		Int("advertiser_id", job.AdvertiserID).
		Err(cause).
		Msg("[upload] job permanently failed")

	if err := w.store.UpdateUploadJobState(job.ID, job.Status, nil, job.Attempts, &msg, nil); err != nil {
		return job, err
	}
	if err := w.store.ClearCanonicalMediaID(job.AdvertiserID); err != nil {
		return job, err
	}
	return job, nil
}
