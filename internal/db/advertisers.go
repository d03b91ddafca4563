package db

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/model"
)

func scanAdvertiser(row *sql.Row) (model.Advertiser, error) {
	var a model.Advertiser
	var regions, cities pq.StringArray
	err := row.Scan(
		&a.ID, &a.Name, &a.Active, &a.Approved,
		&regions, &cities,
		&a.AssetPath, &a.CanonicalMediaID,
		&a.PublishStatus, &a.PublishedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Advertiser{}, err
	}
	a.TargetRegions = regions
	a.TargetCities = cities
	return a, nil
}

const advertiserColumns = `
	id, name, active, approved, target_regions, target_cities,
	asset_path, canonical_media_id, publish_status, published_at,
	created_at, updated_at`

func GetAdvertiserByID(id int) (model.Advertiser, error) {
	row := DB.QueryRow(`SELECT `+advertiserColumns+` FROM advertisers WHERE id = $1`, id)
	a, err := scanAdvertiser(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Error().Err(err).Int("advertiser_id", id).Msg("[db] failed to get advertiser")
	}
	return a, err
}

func ListActiveApprovedAdvertisers() ([]model.Advertiser, error) {
	rows, err := DB.Query(`
		SELECT ` + advertiserColumns + `
		FROM advertisers
		WHERE active = true AND approved = true
		ORDER BY id`)
	if err != nil {
		log.Error().Err(err).Msg("[db] failed to list active advertisers")
		return nil, err
	}
	defer rows.Close()

	var out []model.Advertiser
	for rows.Next() {
		var a model.Advertiser
		var regions, cities pq.StringArray
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Active, &a.Approved,
			&regions, &cities,
			&a.AssetPath, &a.CanonicalMediaID,
			&a.PublishStatus, &a.PublishedAt,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			log.Error().Err(err).Msg("[db] failed to scan advertiser row")
			return nil, err
		}
		a.TargetRegions = regions
		a.TargetCities = cities
		out = append(out, a)
	}
	return out, rows.Err()
}

func CreateAdvertiser(name string, regions, cities []string) (model.Advertiser, error) {
	row := DB.QueryRow(`
		INSERT INTO advertisers
			(name, active, approved, target_regions, target_cities, publish_status, created_at, updated_at)
		VALUES
			($1, true, false, $2, $3, $4, now(), now())
		RETURNING `+advertiserColumns, name, pq.Array(regions), pq.Array(cities), model.PublishStatusIdle)
	a, err := scanAdvertiser(row)
	if err != nil {
		log.Error().Err(err).Msg("[db] failed to create advertiser")
	}
	return a, err
}

func UpdateAdvertiser(id int, name *string, active, approved *bool, regions, cities []string) error {
	_, err := DB.Exec(`
		UPDATE advertisers
		SET name           = COALESCE($2, name),
		    active         = COALESCE($3, active),
		    approved       = COALESCE($4, approved),
		    target_regions = COALESCE($5, target_regions),
		    target_cities  = COALESCE($6, target_cities),
		    updated_at     = now()
		WHERE id = $1`,
		id, name, active, approved, nullableArray(regions), nullableArray(cities))
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("[db] failed to update advertiser")
	}
	return err
}

func nullableArray(in []string) interface{} {
	if in == nil {
		return nil
	}
	return pq.Array(in)
}

func SetAdvertiserAsset(id int, assetPath string) error {
	_, err := DB.Exec(`
		UPDATE advertisers
		SET asset_path = $2, updated_at = now()
		WHERE id = $1`, id, assetPath)
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("[db] failed to set advertiser asset")
	}
	return err
}

// SetCanonicalMediaID records the verified remote media ID for the
// advertiser's asset.
func SetCanonicalMediaID(id int, mediaID int64) error {
	_, err := DB.Exec(`
		UPDATE advertisers
		SET canonical_media_id = $2, updated_at = now()
		WHERE id = $1`, id, mediaID)
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("[db] failed to set canonical media id")
	}
	return err
}

// ClearCanonicalMediaID drops a cached media ID the remote platform can
// no longer serve. Local state must never claim an asset is live when
// it isn't.
func ClearCanonicalMediaID(id int) error {
	_, err := DB.Exec(`
		UPDATE advertisers
		SET canonical_media_id = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("[db] failed to clear canonical media id")
	}
	return err
}

// TryMarkPublishPending is the publish-level mutex: an atomic
// conditional update that only one concurrent caller can win. Returns
// false when a publish for this advertiser is already in flight.
func TryMarkPublishPending(id int) (bool, error) {
	res, err := DB.Exec(`
		UPDATE advertisers
		SET publish_status = $2, updated_at = now()
		WHERE id = $1 AND publish_status != $2`, id, model.PublishStatusPending)
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("[db] failed to mark publish pending")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func SetPublishStatus(id int, status string) error {
	_, err := DB.Exec(`
		UPDATE advertisers
		SET publish_status = $2,
		    published_at   = CASE WHEN $2 = 'DONE' THEN now() ELSE published_at END,
		    updated_at     = now()
		WHERE id = $1`, id, status)
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("[db] failed to set publish status")
	}
	return err
}
