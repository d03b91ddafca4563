// Store exposes the persistence surface as an interface so the engine,
// worker and API layers can be constructed against fakes in tests.
package db

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/doohlabs/playsync/internal/model"
)

type Store interface {
	// user functions
	CreateUser(email, hashedPassword string, name *string) (int, error)
	GetUserByEmail(email string) (*model.User, error)
	GetUserByID(id int) (*model.User, error)
	UpdateUserProfile(id int, email string, name *string) error

	// screen / playlist-state functions
	GetScreenByID(id int) (model.Screen, error)
	ListScreens() ([]model.Screen, error)
	ListScreensByLocation(locationID *int) ([]model.Screen, error)
	CreateScreen(name string, playerID *int64, locationID *int, city, region *string) (model.Screen, error)
	UpdateScreen(id int, name *string, playerID *int64, locationID *int, city, region *string) error
	UpdateScreenPlaylists(id int, baselineID, adsID, combinedID *int64) error
	ClearScreenPlaylists(id int) error
	RecordPushResult(id int, at time.Time, ok bool, pushErr *string) error
	RecordVerifyResult(id int, at time.Time, ok bool, verifyErr *string) error
	DetectSharedPlaylist(playlistID int64) ([]model.Screen, error)

	// advertiser functions
	GetAdvertiserByID(id int) (model.Advertiser, error)
	ListActiveApprovedAdvertisers() ([]model.Advertiser, error)
	CreateAdvertiser(name string, regions, cities []string) (model.Advertiser, error)
	UpdateAdvertiser(id int, name *string, active, approved *bool, regions, cities []string) error
	SetAdvertiserAsset(id int, assetPath string) error
	SetCanonicalMediaID(id int, mediaID int64) error
	ClearCanonicalMediaID(id int) error
	TryMarkPublishPending(id int) (bool, error)
	SetPublishStatus(id int, status string) error

	// upload job functions
	CreateUploadJob(advertiserID int, assetPath string) (model.UploadJob, error)
	GetUploadJobByID(id int) (model.UploadJob, error)
	LatestUploadJobForAdvertiser(advertiserID int) (model.UploadJob, error)
	ListDueUploadJobs(now time.Time) ([]model.UploadJob, error)
	UpdateUploadJobState(id int, status string, remoteMediaID *int64, attempts int, lastError *string, nextRetryAt *time.Time) error
}

type pgStore struct {
	db *sqlx.DB
}

// compile-time check that pgStore implements Store
var _ Store = (*pgStore)(nil)

func NewStore(database *sqlx.DB) Store {
	if database == nil {
		database = DB
	}
	return &pgStore{db: database}
}

func (s *pgStore) CreateUser(email, hashedPassword string, name *string) (int, error) {
	return CreateUser(email, hashedPassword, name)
}

func (s *pgStore) GetUserByEmail(email string) (*model.User, error) { return GetUserByEmail(email) }

func (s *pgStore) GetUserByID(id int) (*model.User, error) { return GetUserByID(id) }

func (s *pgStore) UpdateUserProfile(id int, email string, name *string) error {
	return UpdateUserProfile(id, email, name)
}

func (s *pgStore) GetScreenByID(id int) (model.Screen, error) { return GetScreenByID(id) }

func (s *pgStore) ListScreens() ([]model.Screen, error) { return ListScreens() }

func (s *pgStore) ListScreensByLocation(locationID *int) ([]model.Screen, error) {
	return ListScreensByLocation(locationID)
}

func (s *pgStore) CreateScreen(name string, playerID *int64, locationID *int, city, region *string) (model.Screen, error) {
	return CreateScreen(name, playerID, locationID, city, region)
}

func (s *pgStore) UpdateScreen(id int, name *string, playerID *int64, locationID *int, city, region *string) error {
	return UpdateScreen(id, name, playerID, locationID, city, region)
}

func (s *pgStore) UpdateScreenPlaylists(id int, baselineID, adsID, combinedID *int64) error {
	return UpdateScreenPlaylists(id, baselineID, adsID, combinedID)
}

func (s *pgStore) ClearScreenPlaylists(id int) error { return ClearScreenPlaylists(id) }

func (s *pgStore) RecordPushResult(id int, at time.Time, ok bool, pushErr *string) error {
	return RecordPushResult(id, at, ok, pushErr)
}

func (s *pgStore) RecordVerifyResult(id int, at time.Time, ok bool, verifyErr *string) error {
	return RecordVerifyResult(id, at, ok, verifyErr)
}

func (s *pgStore) DetectSharedPlaylist(playlistID int64) ([]model.Screen, error) {
	return DetectSharedPlaylist(playlistID)
}

func (s *pgStore) GetAdvertiserByID(id int) (model.Advertiser, error) { return GetAdvertiserByID(id) }

func (s *pgStore) ListActiveApprovedAdvertisers() ([]model.Advertiser, error) {
	return ListActiveApprovedAdvertisers()
}

func (s *pgStore) CreateAdvertiser(name string, regions, cities []string) (model.Advertiser, error) {
	return CreateAdvertiser(name, regions, cities)
}

func (s *pgStore) UpdateAdvertiser(id int, name *string, active, approved *bool, regions, cities []string) error {
	return UpdateAdvertiser(id, name, active, approved, regions, cities)
}

func (s *pgStore) SetAdvertiserAsset(id int, assetPath string) error {
	return SetAdvertiserAsset(id, assetPath)
}

func (s *pgStore) SetCanonicalMediaID(id int, mediaID int64) error {
	return SetCanonicalMediaID(id, mediaID)
}

func (s *pgStore) ClearCanonicalMediaID(id int) error { return ClearCanonicalMediaID(id) }

func (s *pgStore) TryMarkPublishPending(id int) (bool, error) { return TryMarkPublishPending(id) }

func (s *pgStore) SetPublishStatus(id int, status string) error { return SetPublishStatus(id, status) }

func (s *pgStore) CreateUploadJob(advertiserID int, assetPath string) (model.UploadJob, error) {
	return CreateUploadJob(advertiserID, assetPath)
}

func (s *pgStore) GetUploadJobByID(id int) (model.UploadJob, error) { return GetUploadJobByID(id) }

func (s *pgStore) LatestUploadJobForAdvertiser(advertiserID int) (model.UploadJob, error) {
	return LatestUploadJobForAdvertiser(advertiserID)
}

func (s *pgStore) ListDueUploadJobs(now time.Time) ([]model.UploadJob, error) {
	return ListDueUploadJobs(now)
}

func (s *pgStore) UpdateUploadJobState(id int, status string, remoteMediaID *int64, attempts int, lastError *string, nextRetryAt *time.Time) error {
	return UpdateUploadJobState(id, status, remoteMediaID, attempts, lastError, nextRetryAt)
}
