// Package reconcile converges one screen's remote playback state to
// the desired state computed from local business rules. The remote
// platform is the only source of runtime truth, so every write is read
// back before the next step proceeds.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/config"
	"github.com/doohlabs/playsync/internal/model"
	"github.com/doohlabs/playsync/internal/targeting"
	"github.com/doohlabs/playsync/internal/yodeck"
)

// Platform is the slice of the remote API the engine drives.
// *yodeck.Client satisfies it; tests inject fakes.
type Platform interface {
	SearchPlaylistByName(ctx context.Context, name string) (*yodeck.Playlist, error)
	CreatePlaylist(ctx context.Context, name string) (*yodeck.Playlist, error)
	GetPlaylistItems(ctx context.Context, playlistID int64) ([]yodeck.PlaylistItem, error)
	ReplacePlaylistItems(ctx context.Context, playlistID int64, items []yodeck.PlaylistItem) error
	GetScreen(ctx context.Context, playerID int64) (*yodeck.ScreenState, error)
	AssignPlaylist(ctx context.Context, playerID, playlistID int64) error
	PushScreen(ctx context.Context, playerID int64) error
	GetMedia(ctx context.Context, mediaID int64) (*yodeck.Media, error)
}

// StateStore is the playlist-state slice of the persistence layer.
// db.Store satisfies it.
type StateStore interface {
	GetScreenByID(id int) (model.Screen, error)
	UpdateScreenPlaylists(id int, baselineID, adsID, combinedID *int64) error
	ClearScreenPlaylists(id int) error
	RecordPushResult(id int, at time.Time, ok bool, pushErr *string) error
	RecordVerifyResult(id int, at time.Time, ok bool, verifyErr *string) error
	DetectSharedPlaylist(playlistID int64) ([]model.Screen, error)
	ListActiveApprovedAdvertisers() ([]model.Advertiser, error)
}

// Engine reconciles screens one at a time. It holds no mutable state
// of its own; all coordination lives in database row transitions.
type Engine struct {
	platform Platform
	store    StateStore
	cfg      config.EngineConfig
}

func NewEngine(platform Platform, store StateStore, cfg config.EngineConfig) *Engine {
	return &Engine{platform: platform, store: store, cfg: cfg}
}

// Canonical playlist names. The player ID is baked in so a screen's
// triplet can always be re-found by name after local state loss.
func baselineName(playerID int64) string { return fmt.Sprintf("baseline-player-%d", playerID) }
func adsName(playerID int64) string      { return fmt.Sprintf("ads-player-%d", playerID) }
func combinedName(playerID int64) string { return fmt.Sprintf("combined-player-%d", playerID) }

// Reconcile converges one screen to the desired ad media set. Steps
// are strictly ordered and fail fast; the returned report's Error
// names the failing step. The report is returned even on failure.
func (e *Engine) Reconcile(ctx context.Context, screen model.Screen, desiredAdMediaIDs []int64) *Report {
	if len(desiredAdMediaIDs) > e.cfg.MaxAdsPerScreen {
		desiredAdMediaIDs = desiredAdMediaIDs[:e.cfg.MaxAdsPerScreen]
	}

	var playerID int64
	if screen.YodeckPlayerID != nil {
		playerID = *screen.YodeckPlayerID
	}
	report := newReport(screen.ID, playerID, desiredAdMediaIDs)
	if screen.YodeckPlayerID == nil {
		return report.fail(StepEnsurePlaylists, fmt.Errorf("screen %d is not linked to a remote player", screen.ID))
	}

	log.Info().
		Str("run_id", report.RunID).
		Int("screen_id", screen.ID).
		Int64("player_id", playerID).
		Ints64("desired", desiredAdMediaIDs).
		Msg("[reconcile] starting run")

	// step 1: shared-playlist guard
	fresh, err := e.guardSharedPlaylists(screen)
	if err != nil {
		return report.fail(StepSharedPlaylistGuard, err)
	}
	screen = fresh

	if err := e.converge(ctx, &screen, desiredAdMediaIDs, report); err != nil {
		return report
	}
	return report
}

// converge runs steps 2-8. On a layout-mode verify failure it re-runs
// itself once (self-heal); a second failure is LAYOUT_FORBIDDEN.
func (e *Engine) converge(ctx context.Context, screen *model.Screen, desired []int64, report *Report) error {
	err := e.convergeOnce(ctx, screen, desired, report)
	if err == nil {
		return nil
	}
	if !report.layoutDetected {
		return err
	}

	log.Warn().
		Str("run_id", report.RunID).
		Int("screen_id", screen.ID).
		Msg("[reconcile] screen found in forbidden layout mode, self-healing")

	report.Healed = true
	report.Error = nil
	report.layoutDetected = false
	if err := e.convergeOnce(ctx, screen, desired, report); err != nil {
		report.fail(StepVerify, fmt.Errorf("%w: %v", ErrLayoutForbidden, err))
		return report.Error
	}
	return nil
}

func (e *Engine) convergeOnce(ctx context.Context, screen *model.Screen, desired []int64, report *Report) error {
	// step 2: ensure the playlist triplet exists remotely
	if err := e.ensurePlaylists(ctx, screen); err != nil {
		report.fail(StepEnsurePlaylists, err)
		return report.Error
	}

	// step 3: seed baseline with the configured minimum media set
	baseline, err := e.seedBaseline(ctx, *screen.BaselinePlaylistID)
	if err != nil {
		report.fail(StepSeedBaseline, err)
		return report.Error
	}

	// step 5: diff & replace the ads playlist in one write
	ads, wrote, err := e.replaceAds(ctx, *screen.AdsPlaylistID, desired)
	if err != nil {
		report.fail(StepDiffAds, err)
		return report.Error
	}
	report.AdsWritten = report.AdsWritten || wrote

	// step 6: rebuild combined as ordered-union(baseline, ads)
	combined := orderedUnion(baseline, ads)
	wrote, before, err := e.writeCombined(ctx, *screen.CombinedPlaylistID, combined)
	if err != nil {
		report.fail(StepRebuildCombined, err)
		return report.Error
	}
	report.CombinedWritten = report.CombinedWritten || wrote
	report.BeforeItems = before

	// step 7: assign the combined playlist as content source and push
	if err := e.assignAndPush(ctx, screen); err != nil {
		report.fail(StepAssignPush, err)
		return report.Error
	}

	// step 8: hard verify against freshly re-fetched remote state
	if err := e.verify(ctx, screen, combined, report); err != nil {
		report.fail(StepVerify, err)
		return report.Error
	}
	report.Verified = true
	return nil
}

// guardSharedPlaylists enforces the invariant that no remote playlist
// is referenced by two screens. The later screen's mapping is cleared
// and re-provisioned; an earlier screen keeps its triplet.
func (e *Engine) guardSharedPlaylists(screen model.Screen) (model.Screen, error) {
	for _, pid := range []*int64{screen.BaselinePlaylistID, screen.AdsPlaylistID, screen.CombinedPlaylistID} {
		if pid == nil {
			continue
		}
		holders, err := e.store.DetectSharedPlaylist(*pid)
		if err != nil {
			return screen, err
		}
		for _, other := range holders {
			if other.ID == screen.ID {
				continue
			}
			victim := screen.ID
			if other.ID > screen.ID {
				victim = other.ID
			}
			log.Warn().
				Int64("playlist_id", *pid).
				Int("screen_id", screen.ID).
				Int("other_screen_id", other.ID).
				Int("cleared_screen_id", victim).
				Msg("[reconcile] shared playlist detected, clearing mapping")
			if err := e.store.ClearScreenPlaylists(victim); err != nil {
				return screen, err
			}
			if victim == screen.ID {
				return e.store.GetScreenByID(screen.ID)
			}
		}
	}
	return screen, nil
}

// ensurePlaylists searches the remote platform for each canonical name
// and creates what is absent, then persists the resulting IDs.
func (e *Engine) ensurePlaylists(ctx context.Context, screen *model.Screen) error {
	playerID := *screen.YodeckPlayerID

	ensure := func(stored *int64, name string) (*int64, error) {
		if stored != nil {
			return stored, nil
		}
		found, err := e.platform.SearchPlaylistByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return &found.ID, nil
		}
		created, err := e.platform.CreatePlaylist(ctx, name)
		if err != nil {
			return nil, err
		}
		log.Info().Int64("playlist_id", created.ID).Str("name", name).Msg("[reconcile] created remote playlist")
		return &created.ID, nil
	}

	baseline, err := ensure(screen.BaselinePlaylistID, baselineName(playerID))
	if err != nil {
		return fmt.Errorf("ensure baseline playlist: %w", err)
	}
	ads, err := ensure(screen.AdsPlaylistID, adsName(playerID))
	if err != nil {
		return fmt.Errorf("ensure ads playlist: %w", err)
	}
	combined, err := ensure(screen.CombinedPlaylistID, combinedName(playerID))
	if err != nil {
		return fmt.Errorf("ensure combined playlist: %w", err)
	}

	if err := e.store.UpdateScreenPlaylists(screen.ID, baseline, ads, combined); err != nil {
		return fmt.Errorf("persist playlist ids: %w", err)
	}
	screen.BaselinePlaylistID = baseline
	screen.AdsPlaylistID = ads
	screen.CombinedPlaylistID = combined
	return nil
}

// seedBaseline appends configured baseline media the playlist is
// missing. It never removes unexpected items: baseline editing is a
// manual operator action.
func (e *Engine) seedBaseline(ctx context.Context, baselineID int64) ([]yodeck.PlaylistItem, error) {
	items, err := e.platform.GetPlaylistItems(ctx, baselineID)
	if err != nil {
		return nil, fmt.Errorf("fetch baseline items: %w", err)
	}

	have := make(map[int64]bool, len(items))
	for _, it := range items {
		have[it.ID] = true
	}

	missing := false
	for _, id := range e.cfg.BaselineMediaIDs {
		if !have[id] {
			items = append(items, yodeck.PlaylistItem{ID: id, Type: "media", Duration: e.cfg.DefaultItemDuration})
			missing = true
		}
	}
	if !missing {
		return items, nil
	}

	if err := e.platform.ReplacePlaylistItems(ctx, baselineID, items); err != nil {
		return nil, fmt.Errorf("seed baseline items: %w", err)
	}
	log.Info().Int64("playlist_id", baselineID).Msg("[reconcile] seeded missing baseline media")
	return e.platform.GetPlaylistItems(ctx, baselineID)
}

// replaceAds writes the desired ad set in a single full-replace PATCH.
// Returns the resulting items and whether a write was performed: an
// unchanged set performs zero writes (idempotence).
func (e *Engine) replaceAds(ctx context.Context, adsID int64, desired []int64) ([]yodeck.PlaylistItem, bool, error) {
	current, err := e.platform.GetPlaylistItems(ctx, adsID)
	if err != nil {
		return nil, false, fmt.Errorf("fetch ads items: %w", err)
	}

	if sameIDs(itemIDs(current), desired) {
		return current, false, nil
	}

	items := make([]yodeck.PlaylistItem, 0, len(desired))
	for _, id := range desired {
		items = append(items, yodeck.PlaylistItem{ID: id, Type: "media", Duration: e.cfg.DefaultItemDuration})
	}
	if err := e.platform.ReplacePlaylistItems(ctx, adsID, items); err != nil {
		return nil, false, fmt.Errorf("replace ads items: %w", err)
	}

	// read after write: the remote is the source of truth
	after, err := e.platform.GetPlaylistItems(ctx, adsID)
	if err != nil {
		return nil, true, fmt.Errorf("re-fetch ads items: %w", err)
	}
	return after, true, nil
}

func (e *Engine) writeCombined(ctx context.Context, combinedID int64, want []yodeck.PlaylistItem) (wrote bool, before []int64, err error) {
	current, err := e.platform.GetPlaylistItems(ctx, combinedID)
	if err != nil {
		return false, nil, fmt.Errorf("fetch combined items: %w", err)
	}
	before = itemIDs(current)

	if sameIDs(before, itemIDs(want)) {
		return false, before, nil
	}
	if err := e.platform.ReplacePlaylistItems(ctx, combinedID, want); err != nil {
		return false, before, fmt.Errorf("replace combined items: %w", err)
	}
	return true, before, nil
}

func (e *Engine) assignAndPush(ctx context.Context, screen *model.Screen) error {
	playerID := *screen.YodeckPlayerID
	now := time.Now()

	if err := e.platform.AssignPlaylist(ctx, playerID, *screen.CombinedPlaylistID); err != nil {
		msg := err.Error()
		_ = e.store.RecordPushResult(screen.ID, now, false, &msg)
		return fmt.Errorf("assign combined playlist: %w", err)
	}
	if err := e.platform.PushScreen(ctx, playerID); err != nil {
		msg := err.Error()
		_ = e.store.RecordPushResult(screen.ID, now, false, &msg)
		return fmt.Errorf("push screen: %w", err)
	}
	return e.store.RecordPushResult(screen.ID, now, true, nil)
}

// verify re-fetches the live screen source and combined item list. HTTP
// success upstream is never trusted as ground truth; this read decides
// the run. One re-patch + re-fetch retry is allowed before a mismatch
// becomes a hard failure.
func (e *Engine) verify(ctx context.Context, screen *model.Screen, want []yodeck.PlaylistItem, report *Report) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			// re-patch, then look again
			if err := e.platform.ReplacePlaylistItems(ctx, *screen.CombinedPlaylistID, want); err != nil {
				return e.recordVerify(screen.ID, fmt.Errorf("verify re-patch: %w", err))
			}
			if err := e.platform.AssignPlaylist(ctx, *screen.YodeckPlayerID, *screen.CombinedPlaylistID); err != nil {
				return e.recordVerify(screen.ID, fmt.Errorf("verify re-assign: %w", err))
			}
		}

		state, err := e.platform.GetScreen(ctx, *screen.YodeckPlayerID)
		if err != nil {
			return e.recordVerify(screen.ID, fmt.Errorf("re-fetch screen: %w", err))
		}
		if state.Content.SourceType == yodeck.SourceTypeLayout {
			report.layoutDetected = true
		}

		live, err := e.platform.GetPlaylistItems(ctx, *screen.CombinedPlaylistID)
		if err != nil {
			return e.recordVerify(screen.ID, fmt.Errorf("re-fetch combined items: %w", err))
		}
		report.AfterItems = itemIDs(live)

		liveSet := make(map[int64]bool, len(live))
		for _, it := range live {
			liveSet[it.ID] = true
		}
		var missing []int64
		for _, it := range want {
			if !liveSet[it.ID] {
				missing = append(missing, it.ID)
			}
		}

		if state.Content.SourceType == yodeck.SourceTypePlaylist &&
			state.Content.SourceID == *screen.CombinedPlaylistID &&
			len(missing) == 0 {
			return e.store.RecordVerifyResult(screen.ID, time.Now(), true, nil)
		}

		lastErr = &VerifyError{
			SourceType:      state.Content.SourceType,
			SourceID:        state.Content.SourceID,
			WantPlaylistID:  *screen.CombinedPlaylistID,
			MissingMediaIDs: missing,
		}
	}
	return e.recordVerify(screen.ID, lastErr)
}

func (e *Engine) recordVerify(screenID int, err error) error {
	msg := err.Error()
	_ = e.store.RecordVerifyResult(screenID, time.Now(), false, &msg)
	return err
}

// DesiredAds evaluates every active, approved advertiser against the
// screen's location and returns the capped ad media set in discovery
// order, with the matcher's reason per advertiser for auditability.
// Advertisers without a canonical media ID are skipped here; getting
// media uploaded is the upload worker's job, not the engine's.
func (e *Engine) DesiredAds(ctx context.Context, screen model.Screen) ([]int64, map[int]string, error) {
	advertisers, err := e.store.ListActiveApprovedAdvertisers()
	if err != nil {
		return nil, nil, fmt.Errorf("list advertisers: %w", err)
	}

	city, region := "", ""
	if screen.City != nil {
		city = *screen.City
	}
	if screen.Region != nil {
		region = *screen.Region
	}

	reasons := make(map[int]string, len(advertisers))
	var desired []int64
	for _, adv := range advertisers {
		res := targeting.Match(city, region, adv.TargetRegions, adv.TargetCities)
		reasons[adv.ID] = res.Reason
		if !res.Match {
			continue
		}
		if adv.CanonicalMediaID == nil {
			log.Debug().Int("advertiser_id", adv.ID).Msg("[reconcile] matched advertiser has no canonical media yet, skipping")
			continue
		}
		// an existing remote media ID is preferred but never trusted
		// blindly: re-verify it is still retrievable before reuse
		if _, err := e.platform.GetMedia(ctx, *adv.CanonicalMediaID); err != nil {
			if yodeck.IsNotFound(err) {
				log.Warn().
					Int("advertiser_id", adv.ID).
					Int64("media_id", *adv.CanonicalMediaID).
					Msg("[reconcile] canonical media vanished remotely, excluding from desired set")
				continue
			}
			return nil, nil, fmt.Errorf("verify media %d: %w", *adv.CanonicalMediaID, err)
		}
		desired = append(desired, *adv.CanonicalMediaID)
		if len(desired) == e.cfg.MaxAdsPerScreen {
			break
		}
	}
	return desired, reasons, nil
}

// orderedUnion merges baseline and ads: baseline items first in their
// existing order, ads appended in discovery order, duplicates by media
// ID removed.
func orderedUnion(baseline, ads []yodeck.PlaylistItem) []yodeck.PlaylistItem {
	seen := make(map[int64]bool, len(baseline)+len(ads))
	out := make([]yodeck.PlaylistItem, 0, len(baseline)+len(ads))
	for _, it := range baseline {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	for _, it := range ads {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

func itemIDs(items []yodeck.PlaylistItem) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
