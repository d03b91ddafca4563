package model

import "time"

// Publish status values used as the publish-level mutex (see publish pipeline).
const (
	PublishStatusIdle    = "IDLE"
	PublishStatusPending = "PENDING"
	PublishStatusDone    = "DONE"
	PublishStatusFailed  = "FAILED"
)

// Advertiser is a paying customer whose approved video is rotated into
// the ads playlists of the screens its targeting rules match.
type Advertiser struct {
	ID               int        `db:"id"                 json:"id"`
	Name             string     `db:"name"               json:"name"`
	Active           bool       `db:"active"             json:"active"`
	Approved         bool       `db:"approved"           json:"approved"`
	TargetRegions    []string   `db:"-"                  json:"target_regions"`
	TargetCities     []string   `db:"-"                  json:"target_cities"`
	AssetPath        *string    `db:"asset_path"         json:"asset_path"`
	CanonicalMediaID *int64     `db:"canonical_media_id" json:"canonical_media_id"`
	PublishStatus    string     `db:"publish_status"     json:"publish_status"`
	PublishedAt      *time.Time `db:"published_at"       json:"published_at"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}
