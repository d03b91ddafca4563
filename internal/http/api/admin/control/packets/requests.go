package packets

type CreateScreenRequest struct {
	Name           string  `json:"name" binding:"required"`
	YodeckPlayerID *int64  `json:"yodeck_player_id"`
	LocationID     *int    `json:"location_id"`
	City           *string `json:"city"`
	Region         *string `json:"region"`
}

type UpdateScreenRequest struct {
	Name           *string `json:"name"`
	YodeckPlayerID *int64  `json:"yodeck_player_id"`
	LocationID     *int    `json:"location_id"`
	City           *string `json:"city"`
	Region         *string `json:"region"`
}

type CreateAdvertiserRequest struct {
	Name          string   `json:"name" binding:"required"`
	TargetRegions []string `json:"target_regions"`
	TargetCities  []string `json:"target_cities"`
}

type UpdateAdvertiserRequest struct {
	Name          *string  `json:"name"`
	Active        *bool    `json:"active"`
	Approved      *bool    `json:"approved"`
	TargetRegions []string `json:"target_regions"`
	TargetCities  []string `json:"target_cities"`
}

type ReconcileRequest struct {
	LocationID *int `json:"location_id"`
	Push       bool `json:"push"`
}
