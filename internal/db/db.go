package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Connection retry: the service often starts before Postgres in
// compose deployments, so the first pings are expected to fail.
const (
	pingAttempts = 10
	pingBackoff  = 2 * time.Second
	pingTimeout  = 5 * time.Second
)

var DB *sqlx.DB

// Init opens the PostgreSQL pool and pings it until the database
// answers or the attempt budget runs out.
func Init(databaseURL string) error {
	pool, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	pool.SetMaxOpenConns(20)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(30 * time.Minute)

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err = pool.PingContext(ctx)
		cancel()
		if err == nil {
			DB = pool
			log.Info().Msg("[db] connected")
			return nil
		}
		if attempt >= pingAttempts {
			break
		}
		log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", pingBackoff).
			Msg("[db] not reachable yet")
		time.Sleep(pingBackoff)
	}

	return fmt.Errorf("database unreachable after %d attempts: %w", pingAttempts, err)
}

// RunMigrations applies every "*.up.sql" file under migrationsPath in
// lexical order. Files are plain SQL executed as one statement batch;
// the first failing file aborts the run.
func RunMigrations(migrationsPath string) error {
	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("list migrations in %q: %w", migrationsPath, err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		stmt, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %q: %w", file, err)
		}
		if len(stmt) == 0 {
			continue
		}
		if _, err := DB.Exec(string(stmt)); err != nil {
			return fmt.Errorf("apply migration %q: %w", file, err)
		}
		log.Debug().Str("file", filepath.Base(file)).Msg("[db] migration applied")
		applied++
	}
	log.Info().Int("applied", applied).Msg("[db] migrations up to date")
	return nil
}
