package db

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doohlabs/playsync/internal/model"
)

func TestMain(m *testing.M) {
	if os.Getenv("TEST_DATABASE_URL") != "" {
		if err := InitTestDB("../../migrations"); err != nil {
			fmt.Fprintf(os.Stderr, "init test db: %v\n", err)
			os.Exit(1)
		}
	}
	os.Exit(m.Run())
}

func requireTestDB(t *testing.T) Store {
	t.Helper()
	if TestStore == nil {
		t.Skip("TEST_DATABASE_URL not set, skipping database integration test")
	}
	return TestStore
}

func ptrI64(v int64) *int64 { return &v }
func ptrStr(s string) *string { return &s }
func ptrBool(b bool) *bool   { return &b }

func TestScreenPlaylistLifecycle(t *testing.T) {
	store := requireTestDB(t)

	screen, err := store.CreateScreen("Centraal Hal", ptrI64(7001), nil, ptrStr("Rotterdam"), ptrStr("zh"))
	require.NoError(t, err)
	assert.Nil(t, screen.BaselinePlaylistID)

	err = store.UpdateScreenPlaylists(screen.ID, ptrI64(10), ptrI64(11), ptrI64(12))
	require.NoError(t, err)

	got, err := store.GetScreenByID(screen.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CombinedPlaylistID)
	assert.Equal(t, int64(12), *got.CombinedPlaylistID)

	holders, err := store.DetectSharedPlaylist(11)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, screen.ID, holders[0].ID)

	require.NoError(t, store.ClearScreenPlaylists(screen.ID))
	got, err = store.GetScreenByID(screen.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BaselinePlaylistID)
	assert.Nil(t, got.AdsPlaylistID)
	assert.Nil(t, got.CombinedPlaylistID)
}

func TestDetectSharedPlaylistAcrossScreens(t *testing.T) {
	store := requireTestDB(t)

	a, err := store.CreateScreen("Shared A", ptrI64(7101), nil, nil, nil)
	require.NoError(t, err)
	b, err := store.CreateScreen("Shared B", ptrI64(7102), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateScreenPlaylists(a.ID, ptrI64(900), nil, nil))
	require.NoError(t, store.UpdateScreenPlaylists(b.ID, nil, ptrI64(900), nil))

	holders, err := store.DetectSharedPlaylist(900)
	require.NoError(t, err)
	assert.Len(t, holders, 2)
}

func TestRecordPushAndVerifyResults(t *testing.T) {
	store := requireTestDB(t)

	screen, err := store.CreateScreen("Audit Trail", ptrI64(7201), nil, nil, nil)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.RecordPushResult(screen.ID, now, true, nil))
	msg := "VERIFY_MISMATCH: media [55] missing from live playlist 12"
	require.NoError(t, store.RecordVerifyResult(screen.ID, now, false, &msg))

	got, err := store.GetScreenByID(screen.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPushOK)
	assert.True(t, *got.LastPushOK)
	require.NotNil(t, got.LastVerifyOK)
	assert.False(t, *got.LastVerifyOK)
	require.NotNil(t, got.LastVerifyError)
	assert.Equal(t, msg, *got.LastVerifyError)
}

func TestAdvertiserTargetingRoundTrip(t *testing.T) {
	store := requireTestDB(t)

	adv, err := store.CreateAdvertiser("Bakkerij Jansen", []string{"zh"}, []string{"rotterdam", "den haag"})
	require.NoError(t, err)
	assert.Equal(t, model.PublishStatusIdle, adv.PublishStatus)

	got, err := store.GetAdvertiserByID(adv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"zh"}, got.TargetRegions)
	assert.Equal(t, []string{"rotterdam", "den haag"}, got.TargetCities)
	assert.True(t, got.Active)
	assert.False(t, got.Approved, "new advertisers need manual approval")

	require.NoError(t, store.UpdateAdvertiser(adv.ID, nil, nil, ptrBool(true), nil, nil))
	active, err := store.ListActiveApprovedAdvertisers()
	require.NoError(t, err)
	found := false
	for _, a := range active {
		if a.ID == adv.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTryMarkPublishPendingIsExclusive(t *testing.T) {
	store := requireTestDB(t)

	adv, err := store.CreateAdvertiser("Mutex Test", nil, nil)
	require.NoError(t, err)

	acquired, err := store.TryMarkPublishPending(adv.ID)
	require.NoError(t, err)
	assert.True(t, acquired)

	// second caller loses while the first run is in flight
	acquired, err = store.TryMarkPublishPending(adv.ID)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, store.SetPublishStatus(adv.ID, model.PublishStatusDone))
	acquired, err = store.TryMarkPublishPending(adv.ID)
	require.NoError(t, err)
	assert.True(t, acquired, "mutex is free again after release")
}

func TestCanonicalMediaIDLifecycle(t *testing.T) {
	store := requireTestDB(t)

	adv, err := store.CreateAdvertiser("Media Lifecycle", nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.SetCanonicalMediaID(adv.ID, 4242))
	got, err := store.GetAdvertiserByID(adv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CanonicalMediaID)
	assert.Equal(t, int64(4242), *got.CanonicalMediaID)

	require.NoError(t, store.ClearCanonicalMediaID(adv.ID))
	got, err = store.GetAdvertiserByID(adv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CanonicalMediaID)
}

func TestUploadJobQueue(t *testing.T) {
	store := requireTestDB(t)

	adv, err := store.CreateAdvertiser("Queue Test", nil, nil)
	require.NoError(t, err)

	job, err := store.CreateUploadJob(adv.ID, "/uploads/queue.mp4")
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusQueued, job.Status)

	due, err := store.ListDueUploadJobs(time.Now())
	require.NoError(t, err)
	assert.True(t, containsJob(due, job.ID), "queued job is immediately due")

	// a retryable failure scheduled in the future is not due yet
	future := time.Now().Add(time.Hour)
	msg := "POLL_TIMEOUT"
	require.NoError(t, store.UpdateUploadJobState(job.ID, model.UploadStatusRetryableFail, nil, 1, &msg, &future))
	due, err = store.ListDueUploadJobs(time.Now())
	require.NoError(t, err)
	assert.False(t, containsJob(due, job.ID))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.UpdateUploadJobState(job.ID, model.UploadStatusRetryableFail, nil, 1, &msg, &past))
	due, err = store.ListDueUploadJobs(time.Now())
	require.NoError(t, err)
	assert.True(t, containsJob(due, job.ID))

	require.NoError(t, store.UpdateUploadJobState(job.ID, model.UploadStatusReady, ptrI64(55), 2, nil, nil))
	latest, err := store.LatestUploadJobForAdvertiser(adv.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, latest.ID)
	assert.Equal(t, model.UploadStatusReady, latest.Status)
	require.NotNil(t, latest.RemoteMediaID)
	assert.Equal(t, int64(55), *latest.RemoteMediaID)
}

func containsJob(jobs []model.UploadJob, id int) bool {
	for _, j := range jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}
