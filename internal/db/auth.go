package db

import (
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/model"
)

const userColumns = `id, email, hashed_password, name, created_at, updated_at`

// CreateUser inserts a new user and returns the new user ID.
func CreateUser(email, hashedPassword string, name *string) (int, error) {
	var newID int
	err := DB.QueryRow(`
		INSERT INTO users (email, hashed_password, name, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id`, email, hashedPassword, name).Scan(&newID)
	if err != nil {
		log.Error().Err(err).Msg("[db] failed to create user")
		return 0, err
	}
	return newID, nil
}

func getUser(where string, arg interface{}) (*model.User, error) {
	var u model.User
	err := DB.Get(&u, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		log.Error().Err(err).Msg("[db] failed to load user")
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail returns nil, sql.ErrNoRows when no user matches.
func GetUserByEmail(email string) (*model.User, error) {
	return getUser("email = $1", email)
}

// GetUserByID returns nil, sql.ErrNoRows when no user matches.
func GetUserByID(id int) (*model.User, error) {
	return getUser("id = $1", id)
}

// UpdateUserProfile updates a user's email and name. A nil name keeps
// the current value.
func UpdateUserProfile(id int, email string, name *string) error {
	_, err := DB.Exec(`
		UPDATE users
		SET email = $2, name = COALESCE($3, name), updated_at = now()
		WHERE id = $1`, id, email, name)
	if err != nil {
		log.Error().Err(err).Int("user_id", id).Msg("[db] failed to update user profile")
	}
	return err
}
