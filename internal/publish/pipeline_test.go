package publish

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doohlabs/playsync/internal/config"
	"github.com/doohlabs/playsync/internal/model"
	"github.com/doohlabs/playsync/internal/reconcile"
	"github.com/doohlabs/playsync/internal/yodeck"
)

func i64(v int64) *int64    { return &v }
func strp(s string) *string { return &s }

type fakeReconciler struct {
	desired    []int64
	desiredErr error

	// reports overrides the default verified report per screen ID
	reports    map[int]*reconcile.Report
	reconciled []int

	// onReconcile simulates engine side effects (triplet provisioning)
	onReconcile func(screen model.Screen)
}

func (f *fakeReconciler) DesiredAds(_ context.Context, _ model.Screen) ([]int64, map[int]string, error) {
	if f.desiredErr != nil {
		return nil, nil, f.desiredErr
	}
	return f.desired, map[int]string{}, nil
}

func (f *fakeReconciler) Reconcile(_ context.Context, screen model.Screen, desired []int64) *reconcile.Report {
	f.reconciled = append(f.reconciled, screen.ID)
	if f.onReconcile != nil {
		f.onReconcile(screen)
	}
	if r, ok := f.reports[screen.ID]; ok {
		return r
	}
	return &reconcile.Report{RunID: "run", ScreenID: screen.ID, Desired: desired, AfterItems: desired, Verified: true}
}

type fakeUploader struct {
	result model.UploadJob
	calls  []model.UploadJob
}

func (f *fakeUploader) Process(_ context.Context, job model.UploadJob) (model.UploadJob, error) {
	f.calls = append(f.calls, job)
	return f.result, nil
}

type fakePublishStore struct {
	advertisers map[int]model.Advertiser
	screens     []model.Screen

	pendingDenied bool
	pendingCalls  int
	statusSet     []string

	latestJob   *model.UploadJob
	createdJobs []string
}

func (s *fakePublishStore) GetAdvertiserByID(id int) (model.Advertiser, error) {
	adv, ok := s.advertisers[id]
	if !ok {
		return model.Advertiser{}, sql.ErrNoRows
	}
	return adv, nil
}

func (s *fakePublishStore) TryMarkPublishPending(_ int) (bool, error) {
	s.pendingCalls++
	return !s.pendingDenied, nil
}

func (s *fakePublishStore) SetPublishStatus(_ int, status string) error {
	s.statusSet = append(s.statusSet, status)
	return nil
}

func (s *fakePublishStore) LatestUploadJobForAdvertiser(_ int) (model.UploadJob, error) {
	if s.latestJob == nil {
		return model.UploadJob{}, sql.ErrNoRows
	}
	return *s.latestJob, nil
}

func (s *fakePublishStore) CreateUploadJob(advertiserID int, assetPath string) (model.UploadJob, error) {
	s.createdJobs = append(s.createdJobs, assetPath)
	return model.UploadJob{ID: 100 + len(s.createdJobs), AdvertiserID: advertiserID, AssetPath: assetPath, Status: model.UploadStatusQueued}, nil
}

func (s *fakePublishStore) GetScreenByID(id int) (model.Screen, error) {
	for _, sc := range s.screens {
		if sc.ID == id {
			return sc, nil
		}
	}
	return model.Screen{}, sql.ErrNoRows
}

func (s *fakePublishStore) ListScreensByLocation(locationID *int) ([]model.Screen, error) {
	if locationID == nil {
		return s.screens, nil
	}
	var out []model.Screen
	for _, sc := range s.screens {
		if sc.LocationID != nil && *sc.LocationID == *locationID {
			out = append(out, sc)
		}
	}
	return out, nil
}

type fakeReadPlatform struct {
	screens map[int64]*yodeck.ScreenState
	items   map[int64][]yodeck.PlaylistItem
	calls   int
}

func (f *fakeReadPlatform) GetScreen(_ context.Context, playerID int64) (*yodeck.ScreenState, error) {
	f.calls++
	s, ok := f.screens[playerID]
	if !ok {
		return nil, &yodeck.APIError{Kind: yodeck.KindNotFound, StatusCode: 404}
	}
	return s, nil
}

func (f *fakeReadPlatform) GetPlaylistItems(_ context.Context, playlistID int64) ([]yodeck.PlaylistItem, error) {
	f.calls++
	return f.items[playlistID], nil
}

type fakeCache struct {
	states map[int]*PlaybackState
	sets   int
}

func newFakeCache() *fakeCache { return &fakeCache{states: map[int]*PlaybackState{}} }

func (c *fakeCache) GetPlaybackState(_ context.Context, screenID int) (*PlaybackState, bool) {
	s, ok := c.states[screenID]
	return s, ok
}

func (c *fakeCache) SetPlaybackState(_ context.Context, screenID int, state *PlaybackState) {
	c.sets++
	c.states[screenID] = state
}

type fakeNotifier struct {
	events []OutcomeEvent
}

func (n *fakeNotifier) PublishOutcome(event OutcomeEvent) {
	n.events = append(n.events, event)
}

func linkedScreen(id int, playerID int64) model.Screen {
	pid := playerID
	return model.Screen{ID: id, Name: "screen", YodeckPlayerID: &pid}
}

func approvedAdvertiser(id int) model.Advertiser {
	return model.Advertiser{ID: id, Active: true, Approved: true, PublishStatus: model.PublishStatusIdle}
}

type pipelineFixture struct {
	pipeline   *Pipeline
	engine     *fakeReconciler
	uploader   *fakeUploader
	store      *fakePublishStore
	platform   *fakeReadPlatform
	cache      *fakeCache
	notifier   *fakeNotifier
	sleepCount int
}

func newFixture(store *fakePublishStore, engine *fakeReconciler) *pipelineFixture {
	f := &pipelineFixture{
		engine:   engine,
		uploader: &fakeUploader{},
		store:    store,
		platform: &fakeReadPlatform{screens: map[int64]*yodeck.ScreenState{}, items: map[int64][]yodeck.PlaylistItem{}},
		cache:    newFakeCache(),
		notifier: &fakeNotifier{},
	}
	cfg := config.Defaults()
	cfg.InterScreenDelay = 2 * time.Second
	f.pipeline = NewPipeline(engine, f.uploader, store, f.platform, f.cache, f.notifier, cfg)
	f.pipeline.sleep = func(time.Duration) { f.sleepCount++ }
	return f
}

func TestPublishConvergesAllTargetedScreens(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.CanonicalMediaID = i64(55)
	store := &fakePublishStore{
		advertisers: map[int]model.Advertiser{9: adv},
		screens:     []model.Screen{linkedScreen(1, 7), linkedScreen(2, 8)},
	}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})

	res, err := f.pipeline.Publish(context.Background(), 9)
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.False(t, res.VerifyOnly)
	require.NotNil(t, res.MediaID)
	assert.Equal(t, int64(55), *res.MediaID)
	require.Len(t, res.Screens, 2)
	assert.True(t, res.Screens[0].Verified)
	assert.True(t, res.Screens[1].Verified)

	// existing canonical media is reused, no upload chain started
	assert.Empty(t, f.uploader.calls)
	assert.Equal(t, []int{1, 2}, f.engine.reconciled)
	assert.Equal(t, 1, f.sleepCount, "one pause between two screens")
	assert.Equal(t, []string{model.PublishStatusDone}, store.statusSet)

	require.Len(t, f.notifier.events, 1)
	assert.True(t, f.notifier.events[0].OK)
	assert.Equal(t, 2, f.notifier.events[0].ScreenCount)

	// reconciled snapshots land in the cache for diagnostics
	assert.Equal(t, 2, f.cache.sets)
	assert.Equal(t, SyncInSync, f.cache.states[1].SyncStatus)
}

func TestPublishCachesFreshlyProvisionedPlaylistID(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.CanonicalMediaID = i64(55)
	store := &fakePublishStore{
		advertisers: map[int]model.Advertiser{9: adv},
		screens:     []model.Screen{linkedScreen(1, 7)}, // no triplet yet
	}
	engine := &fakeReconciler{desired: []int64{55}}
	engine.onReconcile = func(model.Screen) {
		store.screens[0].CombinedPlaylistID = i64(300)
	}
	f := newFixture(store, engine)

	res, err := f.pipeline.Publish(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, res.OK)

	cached := f.cache.states[1]
	require.NotNil(t, cached)
	require.NotNil(t, cached.ExpectedPlaylistID, "snapshot must carry the playlist the run provisioned")
	assert.Equal(t, int64(300), *cached.ExpectedPlaylistID)
}

func TestPublishMutexLoserRunsVerificationOnly(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.CanonicalMediaID = i64(55)
	screen := linkedScreen(1, 7)
	screen.CombinedPlaylistID = i64(300)
	store := &fakePublishStore{
		advertisers:   map[int]model.Advertiser{9: adv},
		screens:       []model.Screen{screen},
		pendingDenied: true,
	}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})
	f.platform.screens[7] = &yodeck.ScreenState{ID: 7, Content: yodeck.ScreenContent{SourceType: yodeck.SourceTypePlaylist, SourceID: 300}}
	f.platform.items[300] = []yodeck.PlaylistItem{{ID: 1}, {ID: 55}}

	res, err := f.pipeline.Publish(context.Background(), 9)
	require.NoError(t, err)

	assert.True(t, res.VerifyOnly)
	assert.True(t, res.OK)
	require.Len(t, res.Screens, 1)
	assert.True(t, res.Screens[0].Verified)

	// the loser must not mutate anything
	assert.Empty(t, f.uploader.calls)
	assert.Empty(t, f.engine.reconciled)
	assert.Empty(t, store.statusSet, "the in-flight run owns the mutex")
}

func TestPublishStartsUploadChainWhenNoCanonicalMedia(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.AssetPath = strp("/uploads/ad.mp4")
	store := &fakePublishStore{
		advertisers: map[int]model.Advertiser{9: adv},
		screens:     []model.Screen{linkedScreen(1, 7)},
	}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})
	f.uploader.result = model.UploadJob{ID: 101, Status: model.UploadStatusReady, RemoteMediaID: i64(55)}

	res, err := f.pipeline.Publish(context.Background(), 9)
	require.NoError(t, err)

	assert.True(t, res.OK)
	require.NotNil(t, res.MediaID)
	assert.Equal(t, int64(55), *res.MediaID)
	assert.Equal(t, []string{"/uploads/ad.mp4"}, store.createdJobs)
	require.Len(t, f.uploader.calls, 1)
	assert.Equal(t, model.UploadStatusQueued, f.uploader.calls[0].Status)
}

func TestPublishReplacesExhaustedUploadChain(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.AssetPath = strp("/uploads/ad.mp4")
	store := &fakePublishStore{
		advertisers: map[int]model.Advertiser{9: adv},
		screens:     []model.Screen{linkedScreen(1, 7)},
		latestJob:   &model.UploadJob{ID: 3, AdvertiserID: 9, Status: model.UploadStatusPermanentFail},
	}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})
	f.uploader.result = model.UploadJob{ID: 101, Status: model.UploadStatusReady, RemoteMediaID: i64(55)}

	res, err := f.pipeline.Publish(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"/uploads/ad.mp4"}, store.createdJobs, "a fresh chain replaces the exhausted one")
}

func TestPublishFailsWhenUploadDoesNotReachReady(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.AssetPath = strp("/uploads/ad.mp4")
	store := &fakePublishStore{
		advertisers: map[int]model.Advertiser{9: adv},
		screens:     []model.Screen{linkedScreen(1, 7)},
	}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})
	f.uploader.result = model.UploadJob{ID: 101, Status: model.UploadStatusRetryableFail}

	_, err := f.pipeline.Publish(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not reach READY")
	assert.Equal(t, []string{model.PublishStatusFailed}, store.statusSet)
	assert.Empty(t, f.engine.reconciled)
}

func TestPublishNeverFoldsScreenFailureIntoSuccess(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.CanonicalMediaID = i64(55)
	store := &fakePublishStore{
		advertisers: map[int]model.Advertiser{9: adv},
		screens:     []model.Screen{linkedScreen(1, 7), linkedScreen(2, 8)},
	}
	engine := &fakeReconciler{desired: []int64{55}}
	failed := &reconcile.Report{RunID: "run", ScreenID: 2, Verified: false}
	failed.Error = &reconcile.StepError{Step: reconcile.StepVerify, Err: errors.New("VERIFY_MISMATCH")}
	engine.reports = map[int]*reconcile.Report{2: failed}
	f := newFixture(store, engine)

	res, err := f.pipeline.Publish(context.Background(), 9)
	require.NoError(t, err)

	assert.False(t, res.OK)
	require.Len(t, res.Screens, 2)
	assert.True(t, res.Screens[0].Verified)
	assert.False(t, res.Screens[1].Verified)
	assert.Contains(t, res.Screens[1].Error, "VERIFY_MISMATCH")
	assert.Equal(t, []string{model.PublishStatusFailed}, store.statusSet)
	require.Len(t, f.notifier.events, 1)
	assert.False(t, f.notifier.events[0].OK)
}

func TestPublishRejectsInactiveAdvertiser(t *testing.T) {
	adv := approvedAdvertiser(9)
	adv.Active = false
	store := &fakePublishStore{advertisers: map[int]model.Advertiser{9: adv}}
	f := newFixture(store, &fakeReconciler{})

	_, err := f.pipeline.Publish(context.Background(), 9)
	require.Error(t, err)
	assert.Zero(t, store.pendingCalls, "mutex must not be touched")
}

func TestReconcileLocationDryRunTouchesNothing(t *testing.T) {
	screen := linkedScreen(1, 7)
	screen.CombinedPlaylistID = i64(300)
	store := &fakePublishStore{screens: []model.Screen{screen}}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})
	f.platform.screens[7] = &yodeck.ScreenState{ID: 7, Content: yodeck.ScreenContent{SourceType: yodeck.SourceTypePlaylist, SourceID: 300}}
	f.platform.items[300] = []yodeck.PlaylistItem{{ID: 55}}

	reports, err := f.pipeline.ReconcileLocation(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Verified)
	assert.Equal(t, []int64{55}, reports[0].AfterItems)
	assert.Empty(t, f.engine.reconciled, "dry run performs no remote writes")
}

func TestReconcileLocationPush(t *testing.T) {
	store := &fakePublishStore{screens: []model.Screen{linkedScreen(1, 7), linkedScreen(2, 8)}}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})

	reports, err := f.pipeline.ReconcileLocation(context.Background(), nil, true)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, []int{1, 2}, f.engine.reconciled)
	assert.Equal(t, 1, f.sleepCount)
}

func TestScreenPlaybackStateServedFromCache(t *testing.T) {
	store := &fakePublishStore{screens: []model.Screen{linkedScreen(1, 7)}}
	f := newFixture(store, &fakeReconciler{desired: []int64{55}})
	f.cache.states[1] = &PlaybackState{ScreenID: 1, SyncStatus: SyncInSync}

	state, err := f.pipeline.ScreenPlaybackState(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, SyncInSync, state.SyncStatus)
	assert.Zero(t, f.platform.calls, "cache hit must not reach the platform")
}

func TestScreenPlaybackStatuses(t *testing.T) {
	makeFixture := func(screen model.Screen) *pipelineFixture {
		store := &fakePublishStore{screens: []model.Screen{screen}}
		return newFixture(store, &fakeReconciler{desired: []int64{55}})
	}

	t.Run("unlinked", func(t *testing.T) {
		f := makeFixture(model.Screen{ID: 1})
		state, err := f.pipeline.ScreenPlaybackState(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, SyncUnlinked, state.SyncStatus)
	})

	t.Run("unprovisioned", func(t *testing.T) {
		f := makeFixture(linkedScreen(1, 7))
		state, err := f.pipeline.ScreenPlaybackState(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, SyncUnprovisioned, state.SyncStatus)
	})

	t.Run("layout forbidden", func(t *testing.T) {
		screen := linkedScreen(1, 7)
		screen.CombinedPlaylistID = i64(300)
		f := makeFixture(screen)
		f.platform.screens[7] = &yodeck.ScreenState{ID: 7, Content: yodeck.ScreenContent{SourceType: yodeck.SourceTypeLayout, SourceID: 12}}

		state, err := f.pipeline.ScreenPlaybackState(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, SyncLayoutForbidden, state.SyncStatus)
	})

	t.Run("drift on missing media", func(t *testing.T) {
		screen := linkedScreen(1, 7)
		screen.CombinedPlaylistID = i64(300)
		f := makeFixture(screen)
		f.platform.screens[7] = &yodeck.ScreenState{ID: 7, Content: yodeck.ScreenContent{SourceType: yodeck.SourceTypePlaylist, SourceID: 300}}
		f.platform.items[300] = []yodeck.PlaylistItem{{ID: 1}}

		state, err := f.pipeline.ScreenPlaybackState(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, SyncDrift, state.SyncStatus)
		assert.Equal(t, []int64{55}, state.MissingMediaIDs)
	})

	t.Run("drift on wrong source", func(t *testing.T) {
		screen := linkedScreen(1, 7)
		screen.CombinedPlaylistID = i64(300)
		f := makeFixture(screen)
		f.platform.screens[7] = &yodeck.ScreenState{ID: 7, Content: yodeck.ScreenContent{SourceType: yodeck.SourceTypePlaylist, SourceID: 999}}
		f.platform.items[300] = []yodeck.PlaylistItem{{ID: 55}}

		state, err := f.pipeline.ScreenPlaybackState(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, SyncDrift, state.SyncStatus)
	})

	t.Run("in sync writes through to cache", func(t *testing.T) {
		screen := linkedScreen(1, 7)
		screen.CombinedPlaylistID = i64(300)
		f := makeFixture(screen)
		f.platform.screens[7] = &yodeck.ScreenState{ID: 7, Content: yodeck.ScreenContent{SourceType: yodeck.SourceTypePlaylist, SourceID: 300}}
		f.platform.items[300] = []yodeck.PlaylistItem{{ID: 55}}

		state, err := f.pipeline.ScreenPlaybackState(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, SyncInSync, state.SyncStatus)
		assert.Equal(t, 1, f.cache.sets)
	})
}
