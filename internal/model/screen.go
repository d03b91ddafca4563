package model

import "time"

// Screen represents a physical display managed through the remote
// signage platform. Playlist IDs are remote (Yodeck) identifiers and
// stay nil until the first reconciliation provisions them.
type Screen struct {
	ID                 int        `db:"id"                   json:"id"`
	Name               string     `db:"name"                 json:"name"`
	YodeckPlayerID     *int64     `db:"yodeck_player_id"     json:"yodeck_player_id"`
	LocationID         *int       `db:"location_id"          json:"location_id"`
	City               *string    `db:"city"                 json:"city"`
	Region             *string    `db:"region"               json:"region"`
	BaselinePlaylistID *int64     `db:"baseline_playlist_id" json:"baseline_playlist_id"`
	AdsPlaylistID      *int64     `db:"ads_playlist_id"      json:"ads_playlist_id"`
	CombinedPlaylistID *int64     `db:"combined_playlist_id" json:"combined_playlist_id"`
	LastPushAt         *time.Time `db:"last_push_at"         json:"last_push_at"`
	LastPushOK         *bool      `db:"last_push_ok"         json:"last_push_ok"`
	LastPushError      *string    `db:"last_push_error"      json:"last_push_error"`
	LastVerifyAt       *time.Time `db:"last_verify_at"       json:"last_verify_at"`
	LastVerifyOK       *bool      `db:"last_verify_ok"       json:"last_verify_ok"`
	LastVerifyError    *string    `db:"last_verify_error"    json:"last_verify_error"`
	CreatedAt          time.Time  `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"           json:"updated_at"`
}

// Linked reports whether the screen has been paired with a remote player.
func (s *Screen) Linked() bool {
	return s.YodeckPlayerID != nil
}
