package packets

import "time"

type ScreenResponse struct {
	ID                 int        `json:"id"`
	Name               string     `json:"name"`
	YodeckPlayerID     *int64     `json:"yodeck_player_id"`
	LocationID         *int       `json:"location_id"`
	City               *string    `json:"city"`
	Region             *string    `json:"region"`
	BaselinePlaylistID *int64     `json:"baseline_playlist_id"`
	AdsPlaylistID      *int64     `json:"ads_playlist_id"`
	CombinedPlaylistID *int64     `json:"combined_playlist_id"`
	LastPushAt         *time.Time `json:"last_push_at"`
	LastPushOK         *bool      `json:"last_push_ok"`
	LastVerifyAt       *time.Time `json:"last_verify_at"`
	LastVerifyOK       *bool      `json:"last_verify_ok"`
	CreatedAt          string     `json:"created_at"`
	UpdatedAt          string     `json:"updated_at"`
}

type AdvertiserResponse struct {
	ID               int      `json:"id"`
	Name             string   `json:"name"`
	Active           bool     `json:"active"`
	Approved         bool     `json:"approved"`
	TargetRegions    []string `json:"target_regions"`
	TargetCities     []string `json:"target_cities"`
	AssetPath        *string  `json:"asset_path"`
	CanonicalMediaID *int64   `json:"canonical_media_id"`
	PublishStatus    string   `json:"publish_status"`
}

type UploadJobResponse struct {
	ID            int     `json:"id"`
	AdvertiserID  int     `json:"advertiser_id"`
	Status        string  `json:"status"`
	Attempts      int     `json:"attempts"`
	RemoteMediaID *int64  `json:"remote_media_id"`
	LastError     *string `json:"last_error"`
	NextRetryAt   *string `json:"next_retry_at"`
}
