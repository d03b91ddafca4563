package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/model"
)

const screenColumns = `
	id, name, yodeck_player_id, location_id, city, region,
	baseline_playlist_id, ads_playlist_id, combined_playlist_id,
	last_push_at, last_push_ok, last_push_error,
	last_verify_at, last_verify_ok, last_verify_error,
	created_at, updated_at`

func GetScreenByID(id int) (model.Screen, error) {
	var s model.Screen
	err := DB.Get(&s, `SELECT `+screenColumns+` FROM screens WHERE id = $1`, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Error().Err(err).Int("screen_id", id).Msg("[db] failed to get screen by id")
	}
	return s, err
}

func ListScreens() ([]model.Screen, error) {
	var screens []model.Screen
	err := DB.Select(&screens, `SELECT `+screenColumns+` FROM screens ORDER BY id`)
	if err != nil {
		log.Error().Err(err).Msg("[db] failed to list screens")
	}
	return screens, err
}

// ListScreensByLocation returns the screens at one location, or every
// linked screen when locationID is nil.
func ListScreensByLocation(locationID *int) ([]model.Screen, error) {
	var screens []model.Screen
	var err error
	if locationID == nil {
		err = DB.Select(&screens, `
			SELECT `+screenColumns+`
			FROM screens
			WHERE yodeck_player_id IS NOT NULL
			ORDER BY id`)
	} else {
		err = DB.Select(&screens, `
			SELECT `+screenColumns+`
			FROM screens
			WHERE location_id = $1 AND yodeck_player_id IS NOT NULL
			ORDER BY id`, *locationID)
	}
	if err != nil {
		log.Error().Err(err).Msg("[db] failed to list screens by location")
	}
	return screens, err
}

func CreateScreen(name string, playerID *int64, locationID *int, city, region *string) (model.Screen, error) {
	var s model.Screen
	q := `
	INSERT INTO screens (name, yodeck_player_id, location_id, city, region, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, now(), now())
	RETURNING ` + screenColumns + `;`
	if err := DB.Get(&s, q, name, playerID, locationID, city, region); err != nil {
		log.Error().Err(err).Msg("[db] failed to create screen")
		return model.Screen{}, err
	}
	return s, nil
}

func UpdateScreen(id int, name *string, playerID *int64, locationID *int, city, region *string) error {
	_, err := DB.Exec(`
		UPDATE screens
		SET name             = COALESCE($2, name),
		    yodeck_player_id = COALESCE($3, yodeck_player_id),
		    location_id      = COALESCE($4, location_id),
		    city             = COALESCE($5, city),
		    region           = COALESCE($6, region),
		    updated_at       = now()
		WHERE id = $1`, id, name, playerID, locationID, city, region)
	if err != nil {
		log.Error().Err(err).Int("screen_id", id).Msg("[db] failed to update screen")
	}
	return err
}

// UpdateScreenPlaylists persists the provisioned remote playlist IDs.
func UpdateScreenPlaylists(id int, baselineID, adsID, combinedID *int64) error {
	_, err := DB.Exec(`
		UPDATE screens
		SET baseline_playlist_id = COALESCE($2, baseline_playlist_id),
		    ads_playlist_id      = COALESCE($3, ads_playlist_id),
		    combined_playlist_id = COALESCE($4, combined_playlist_id),
		    updated_at           = now()
		WHERE id = $1`, id, baselineID, adsID, combinedID)
	if err != nil {
		log.Error().Err(err).Int("screen_id", id).Msg("[db] failed to update screen playlists")
	}
	return err
}

// ClearScreenPlaylists wipes the playlist mapping so the next
// reconciliation re-provisions from scratch. Used by the
// shared-playlist guard.
func ClearScreenPlaylists(id int) error {
	_, err := DB.Exec(`
		UPDATE screens
		SET baseline_playlist_id = NULL,
		    ads_playlist_id      = NULL,
		    combined_playlist_id = NULL,
		    updated_at           = now()
		WHERE id = $1`, id)
	if err != nil {
		log.Error().Err(err).Int("screen_id", id).Msg("[db] failed to clear screen playlists")
	}
	return err
}

func RecordPushResult(id int, at time.Time, ok bool, pushErr *string) error {
	_, err := DB.Exec(`
		UPDATE screens
		SET last_push_at = $2, last_push_ok = $3, last_push_error = $4, updated_at = now()
		WHERE id = $1`, id, at, ok, pushErr)
	if err != nil {
		log.Error().Err(err).Int("screen_id", id).Msg("[db] failed to record push result")
	}
	return err
}

func RecordVerifyResult(id int, at time.Time, ok bool, verifyErr *string) error {
	_, err := DB.Exec(`
		UPDATE screens
		SET last_verify_at = $2, last_verify_ok = $3, last_verify_error = $4, updated_at = now()
		WHERE id = $1`, id, at, ok, verifyErr)
	if err != nil {
		log.Error().Err(err).Int("screen_id", id).Msg("[db] failed to record verify result")
	}
	return err
}

// DetectSharedPlaylist returns every screen whose playlist mapping
// references the given remote playlist ID. More than one row is always
// a bug state: no remote playlist may serve two screens.
func DetectSharedPlaylist(playlistID int64) ([]model.Screen, error) {
	var screens []model.Screen
	err := DB.Select(&screens, `
		SELECT `+screenColumns+`
		FROM screens
		WHERE baseline_playlist_id = $1
		   OR ads_playlist_id = $1
		   OR combined_playlist_id = $1
		ORDER BY id`, playlistID)
	if err != nil {
		log.Error().Err(err).Int64("playlist_id", playlistID).Msg("[db] failed to detect shared playlist")
		return nil, err
	}
	return screens, nil
}
