// Package publish is the per-advertiser entry point: it makes sure the
// advertiser's video exists remotely, reconciles every targeted screen,
// and aggregates a structured result. A database-level conditional
// update serves as the publish mutex so racing publish calls cannot
// create duplicate remote media or fight over playlists.
package publish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/config"
	"github.com/doohlabs/playsync/internal/model"
	"github.com/doohlabs/playsync/internal/reconcile"
	"github.com/doohlabs/playsync/internal/targeting"
	"github.com/doohlabs/playsync/internal/yodeck"
)

// Reconciler is the engine surface the pipeline drives.
type Reconciler interface {
	Reconcile(ctx context.Context, screen model.Screen, desiredAdMediaIDs []int64) *reconcile.Report
	DesiredAds(ctx context.Context, screen model.Screen) ([]int64, map[int]string, error)
}

// Uploader advances one upload job as far as it can go.
type Uploader interface {
	Process(ctx context.Context, job model.UploadJob) (model.UploadJob, error)
}

// Store is the persistence slice the pipeline coordinates through.
type Store interface {
	GetAdvertiserByID(id int) (model.Advertiser, error)
	TryMarkPublishPending(id int) (bool, error)
	SetPublishStatus(id int, status string) error
	LatestUploadJobForAdvertiser(advertiserID int) (model.UploadJob, error)
	CreateUploadJob(advertiserID int, assetPath string) (model.UploadJob, error)
	GetScreenByID(id int) (model.Screen, error)
	ListScreensByLocation(locationID *int) ([]model.Screen, error)
}

// Platform is the read-only remote surface used for diagnostics.
type Platform interface {
	GetScreen(ctx context.Context, playerID int64) (*yodeck.ScreenState, error)
	GetPlaylistItems(ctx context.Context, playlistID int64) ([]yodeck.PlaylistItem, error)
}

// Cache stores per-screen playback snapshots for the diagnostics UI.
type Cache interface {
	GetPlaybackState(ctx context.Context, screenID int) (*PlaybackState, bool)
	SetPlaybackState(ctx context.Context, screenID int, state *PlaybackState)
}

// Notifier fans publish outcomes out to ops dashboards.
type Notifier interface {
	PublishOutcome(event OutcomeEvent)
}

// ScreenResult is the per-screen slice of a publish run.
type ScreenResult struct {
	ScreenID   int               `json:"screen_id"`
	ScreenName string            `json:"screen_name"`
	Verified   bool              `json:"verified"`
	Error      string            `json:"error,omitempty"`
	Report     *reconcile.Report `json:"report,omitempty"`
}

// Result aggregates a publish run. OK is true only when every targeted
// screen hard-verified; per-screen failures are never folded into a
// global success.
type Result struct {
	OK           bool           `json:"ok"`
	RunID        string         `json:"run_id"`
	AdvertiserID int            `json:"advertiser_id"`
	MediaID      *int64         `json:"media_id"`
	VerifyOnly   bool           `json:"verify_only"`
	Screens      []ScreenResult `json:"per_screen_results"`
}

// OutcomeEvent is the payload sent to the events channel after a run.
type OutcomeEvent struct {
	RunID        string    `json:"run_id"`
	AdvertiserID int       `json:"advertiser_id"`
	OK           bool      `json:"ok"`
	ScreenCount  int       `json:"screen_count"`
	VerifiedAll  bool      `json:"verified_all"`
	At           time.Time `json:"at"`
}

// Sync status values reported by the diagnostics path.
const (
	SyncInSync          = "in_sync"
	SyncDrift           = "drift"
	SyncLayoutForbidden = "layout_forbidden"
	SyncUnlinked        = "unlinked"
	SyncUnprovisioned   = "unprovisioned"
)

// PlaybackState is the read-only expected-vs-actual snapshot exposed to
// diagnostics UIs. "It looks fine but isn't" is the failure mode this
// system exists to prevent, so the comparison is always against live
// remote state, never against what we last wrote.
type PlaybackState struct {
	ScreenID           int       `json:"screen_id"`
	SyncStatus         string    `json:"sync_status"`
	ExpectedPlaylistID *int64    `json:"expected_playlist_id"`
	ExpectedMediaIDs   []int64   `json:"expected_media_ids"`
	ActualSourceType   string    `json:"actual_source_type"`
	ActualSourceID     int64     `json:"actual_source_id"`
	ActualMediaIDs     []int64   `json:"actual_media_ids"`
	MissingMediaIDs    []int64   `json:"missing_media_ids,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

type Pipeline struct {
	engine   Reconciler
	uploader Uploader
	store    Store
	platform Platform
	cache    Cache
	notifier Notifier
	cfg      config.EngineConfig
	sleep    func(time.Duration)
}

func NewPipeline(engine Reconciler, uploader Uploader, store Store, platform Platform, cache Cache, notifier Notifier, cfg config.EngineConfig) *Pipeline {
	return &Pipeline{
		engine:   engine,
		uploader: uploader,
		store:    store,
		platform: platform,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
		sleep:    time.Sleep,
	}
}

// Publish pushes one advertiser's approved asset to every screen its
// targeting rules cover. A concurrent publish for the same advertiser
// does not start a second pipeline: the loser of the conditional
// update runs the verification-only path and reports whatever the
// in-flight run converges to.
func (p *Pipeline) Publish(ctx context.Context, advertiserID int) (*Result, error) {
	adv, err := p.store.GetAdvertiserByID(advertiserID)
	if err != nil {
		return nil, fmt.Errorf("load advertiser %d: %w", advertiserID, err)
	}
	if !adv.Active || !adv.Approved {
		return nil, fmt.Errorf("advertiser %d is not active and approved", advertiserID)
	}

	result := &Result{RunID: uuid.NewString(), AdvertiserID: advertiserID}

	acquired, err := p.store.TryMarkPublishPending(advertiserID)
	if err != nil {
		return nil, fmt.Errorf("acquire publish mutex: %w", err)
	}
	if !acquired {
		log.Info().
			Int("advertiser_id", advertiserID).
			Str("run_id", result.RunID).
			Msg("[publish] publish already in flight, running verification only")
		result.VerifyOnly = true
		return p.verifyOnly(ctx, adv, result)
	}

	res, runErr := p.run(ctx, adv, result)

	status := model.PublishStatusFailed
	if runErr == nil && res.OK {
		status = model.PublishStatusDone
	}
	if err := p.store.SetPublishStatus(advertiserID, status); err != nil {
		log.Error().Err(err).Int("advertiser_id", advertiserID).Msg("[publish] failed to release publish mutex")
	}

	if p.notifier != nil && res != nil {
		p.notifier.PublishOutcome(OutcomeEvent{
			RunID:        res.RunID,
			AdvertiserID: advertiserID,
			OK:           res.OK,
			ScreenCount:  len(res.Screens),
			VerifiedAll:  res.OK,
			At:           time.Now(),
		})
	}
	return res, runErr
}

func (p *Pipeline) run(ctx context.Context, adv model.Advertiser, result *Result) (*Result, error) {
	mediaID, err := p.ensureUploaded(ctx, adv)
	if err != nil {
		return result, fmt.Errorf("ensure asset uploaded: %w", err)
	}
	result.MediaID = &mediaID

	screens, err := p.resolveTargetScreens(adv)
	if err != nil {
		return result, fmt.Errorf("resolve target screens: %w", err)
	}
	if len(screens) == 0 {
		log.Warn().Int("advertiser_id", adv.ID).Msg("[publish] no screens match advertiser targeting")
		result.OK = false
		return result, nil
	}

	// screens are reconciled strictly one at a time with a pause in
	// between; the remote platform rate-limits aggressively and
	// undocumentedly
	allVerified := true
	for i, screen := range screens {
		if i > 0 {
			p.sleep(p.cfg.InterScreenDelay)
		}

		desired, _, err := p.engine.DesiredAds(ctx, screen)
		if err != nil {
			allVerified = false
			result.Screens = append(result.Screens, ScreenResult{
				ScreenID: screen.ID, ScreenName: screen.Name, Error: err.Error(),
			})
			continue
		}

		report := p.engine.Reconcile(ctx, screen, desired)
		sr := ScreenResult{
			ScreenID:   screen.ID,
			ScreenName: screen.Name,
			Verified:   report.Verified,
			Report:     report,
		}
		if report.Error != nil {
			sr.Error = report.Error.Error()
		}
		if !report.Verified {
			allVerified = false
		}
		result.Screens = append(result.Screens, sr)
		p.cacheReportState(ctx, screen, report)
	}

	result.OK = allVerified
	return result, nil
}

// ensureUploaded returns the advertiser's canonical remote media ID,
// driving an upload job to completion if none exists yet. An existing
// in-flight job is reused, never duplicated.
func (p *Pipeline) ensureUploaded(ctx context.Context, adv model.Advertiser) (int64, error) {
	if adv.CanonicalMediaID != nil {
		return *adv.CanonicalMediaID, nil
	}
	if adv.AssetPath == nil {
		return 0, fmt.Errorf("advertiser %d has no approved asset", adv.ID)
	}

	job, err := p.store.LatestUploadJobForAdvertiser(adv.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		job, err = p.store.CreateUploadJob(adv.ID, *adv.AssetPath)
		if err != nil {
			return 0, fmt.Errorf("create upload job: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("load upload job: %w", err)
	case job.Status == model.UploadStatusPermanentFail:
		// the previous chain is exhausted; a publish attempt implies the
		// operator wants a fresh try
		job, err = p.store.CreateUploadJob(adv.ID, *adv.AssetPath)
		if err != nil {
			return 0, fmt.Errorf("create upload job: %w", err)
		}
	}

	job, err = p.uploader.Process(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("process upload job %d: %w", job.ID, err)
	}
	if job.Status != model.UploadStatusReady || job.RemoteMediaID == nil {
		return 0, fmt.Errorf("upload job %d did not reach READY (status %s)", job.ID, job.Status)
	}
	return *job.RemoteMediaID, nil
}

// resolveTargetScreens applies the advertiser's targeting rules to the
// linked screen fleet.
func (p *Pipeline) resolveTargetScreens(adv model.Advertiser) ([]model.Screen, error) {
	screens, err := p.store.ListScreensByLocation(nil)
	if err != nil {
		return nil, err
	}
	var out []model.Screen
	for _, s := range screens {
		city, region := "", ""
		if s.City != nil {
			city = *s.City
		}
		if s.Region != nil {
			region = *s.Region
		}
		res := targeting.Match(city, region, adv.TargetRegions, adv.TargetCities)
		log.Debug().
			Int("screen_id", s.ID).
			Int("advertiser_id", adv.ID).
			Bool("match", res.Match).
			Str("reason", res.Reason).
			Msg("[publish] targeting evaluated")
		if res.Match {
			out = append(out, s)
		}
	}
	return out, nil
}

// verifyOnly reports live expected-vs-actual for each targeted screen
// without mutating anything remote.
func (p *Pipeline) verifyOnly(ctx context.Context, adv model.Advertiser, result *Result) (*Result, error) {
	screens, err := p.resolveTargetScreens(adv)
	if err != nil {
		return result, fmt.Errorf("resolve target screens: %w", err)
	}

	allInSync := len(screens) > 0
	for _, screen := range screens {
		state, err := p.playbackState(ctx, screen)
		sr := ScreenResult{ScreenID: screen.ID, ScreenName: screen.Name}
		if err != nil {
			sr.Error = err.Error()
			allInSync = false
		} else {
			sr.Verified = state.SyncStatus == SyncInSync
			if !sr.Verified {
				allInSync = false
				sr.Error = fmt.Sprintf("sync status %s", state.SyncStatus)
			}
		}
		result.Screens = append(result.Screens, sr)
	}
	result.OK = allInSync
	return result, nil
}

// ReconcileLocation reconciles every linked screen at a location (or
// the whole fleet when locationID is nil). With push=false it only
// reports the current drift.
func (p *Pipeline) ReconcileLocation(ctx context.Context, locationID *int, push bool) ([]*reconcile.Report, error) {
	screens, err := p.store.ListScreensByLocation(locationID)
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}

	reports := make([]*reconcile.Report, 0, len(screens))
	for i, screen := range screens {
		if i > 0 {
			p.sleep(p.cfg.InterScreenDelay)
		}

		desired, _, err := p.engine.DesiredAds(ctx, screen)
		if err != nil {
			return reports, fmt.Errorf("desired ads for screen %d: %w", screen.ID, err)
		}

		if push {
			report := p.engine.Reconcile(ctx, screen, desired)
			reports = append(reports, report)
			p.cacheReportState(ctx, screen, report)
			continue
		}

		// dry run: report drift without touching the remote
		state, err := p.playbackState(ctx, screen)
		if err != nil {
			return reports, fmt.Errorf("playback state for screen %d: %w", screen.ID, err)
		}
		report := &reconcile.Report{
			RunID:           uuid.NewString(),
			ScreenID:        screen.ID,
			Desired:         desired,
			AfterItems:      state.ActualMediaIDs,
			MissingMediaIDs: state.MissingMediaIDs,
			Verified:        state.SyncStatus == SyncInSync,
		}
		if screen.YodeckPlayerID != nil {
			report.PlayerID = *screen.YodeckPlayerID
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ScreenPlaybackState returns the expected/actual snapshot for one
// screen, served from cache when a fresh snapshot exists.
func (p *Pipeline) ScreenPlaybackState(ctx context.Context, screenID int) (*PlaybackState, error) {
	if p.cache != nil {
		if state, ok := p.cache.GetPlaybackState(ctx, screenID); ok {
			return state, nil
		}
	}

	screen, err := p.store.GetScreenByID(screenID)
	if err != nil {
		return nil, fmt.Errorf("load screen %d: %w", screenID, err)
	}
	state, err := p.playbackState(ctx, screen)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.SetPlaybackState(ctx, screenID, state)
	}
	return state, nil
}

// playbackState builds the live expected-vs-actual comparison.
func (p *Pipeline) playbackState(ctx context.Context, screen model.Screen) (*PlaybackState, error) {
	state := &PlaybackState{
		ScreenID:           screen.ID,
		ExpectedPlaylistID: screen.CombinedPlaylistID,
		CheckedAt:          time.Now(),
	}

	if screen.YodeckPlayerID == nil {
		state.SyncStatus = SyncUnlinked
		return state, nil
	}
	if screen.CombinedPlaylistID == nil {
		state.SyncStatus = SyncUnprovisioned
		return state, nil
	}

	desired, _, err := p.engine.DesiredAds(ctx, screen)
	if err != nil {
		return nil, fmt.Errorf("desired ads: %w", err)
	}
	state.ExpectedMediaIDs = desired

	live, err := p.platform.GetScreen(ctx, *screen.YodeckPlayerID)
	if err != nil {
		return nil, fmt.Errorf("fetch live screen: %w", err)
	}
	state.ActualSourceType = live.Content.SourceType
	state.ActualSourceID = live.Content.SourceID

	items, err := p.platform.GetPlaylistItems(ctx, *screen.CombinedPlaylistID)
	if err != nil {
		return nil, fmt.Errorf("fetch live combined items: %w", err)
	}
	actual := make([]int64, len(items))
	liveSet := make(map[int64]bool, len(items))
	for i, it := range items {
		actual[i] = it.ID
		liveSet[it.ID] = true
	}
	state.ActualMediaIDs = actual

	for _, id := range desired {
		if !liveSet[id] {
			state.MissingMediaIDs = append(state.MissingMediaIDs, id)
		}
	}

	switch {
	case live.Content.SourceType == yodeck.SourceTypeLayout:
		state.SyncStatus = SyncLayoutForbidden
	case live.Content.SourceType != yodeck.SourceTypePlaylist,
		live.Content.SourceID != *screen.CombinedPlaylistID,
		len(state.MissingMediaIDs) > 0:
		state.SyncStatus = SyncDrift
	default:
		state.SyncStatus = SyncInSync
	}
	return state, nil
}

func (p *Pipeline) cacheReportState(ctx context.Context, screen model.Screen, report *reconcile.Report) {
	if p.cache == nil {
		return
	}
	if screen.CombinedPlaylistID == nil {
		// the run may have provisioned the triplet after this struct
		// was loaded; the snapshot must carry the fresh playlist ID
		if fresh, err := p.store.GetScreenByID(screen.ID); err == nil {
			screen = fresh
		}
	}
	state := &PlaybackState{
		ScreenID:           screen.ID,
		ExpectedPlaylistID: screen.CombinedPlaylistID,
		ExpectedMediaIDs:   report.Desired,
		ActualMediaIDs:     report.AfterItems,
		MissingMediaIDs:    report.MissingMediaIDs,
		CheckedAt:          time.Now(),
	}
	if report.Verified {
		state.SyncStatus = SyncInSync
	} else {
		state.SyncStatus = SyncDrift
	}
	p.cache.SetPlaybackState(ctx, screen.ID, state)
}
