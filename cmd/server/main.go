package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/config"
	"github.com/doohlabs/playsync/internal/db"
	"github.com/doohlabs/playsync/internal/events"
	"github.com/doohlabs/playsync/internal/publish"
	"github.com/doohlabs/playsync/internal/reconcile"
	appredis "github.com/doohlabs/playsync/internal/redis"
	"github.com/doohlabs/playsync/internal/storage"
	"github.com/doohlabs/playsync/internal/upload"
	"github.com/doohlabs/playsync/internal/yodeck"
)

func main() {
	env := LoadEnvironment()

	// initialize PostgreSQL
	if err := db.Init(env.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("db init")
	}

	// run pending migrations
	if err := db.RunMigrations(env.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	store := db.NewStore(db.DB)

	if env.RedisAddress != "" {
		appredis.InitRedis(env.RedisAddress, env.RedisUsername, env.RedisPassword)
	}

	storageSystem := buildStorage(env)

	engineCfg := config.Defaults()
	engineCfg.BaselineMediaIDs = env.BaselineMediaIDs

	platform, err := yodeck.NewClient(env.YodeckAPIURL, env.YodeckAPIToken, engineCfg.RequestTimeout)
	if err != nil {
		// a malformed token can never succeed remotely, refuse to start
		log.Fatal().Err(err).Msg("yodeck client init")
	}

	var notifier publish.Notifier
	if env.MQTTBrokerURL != "" {
		n, err := events.NewNotifier(env.MQTTBrokerURL, "playsync-server")
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt init")
		}
		defer n.Close()
		notifier = n
	}

	engine := reconcile.NewEngine(platform, store, engineCfg)
	worker := upload.NewWorker(platform, store, storageSystem, engineCfg, upload.RealClock)
	pipeline := publish.NewPipeline(engine, worker, store, platform, appredis.PlaybackCache{}, notifier, engineCfg)

	// background upload-job runner
	go runUploadJobs(store, worker)

	r := gin.Default()
	RegisterRoutes(r, env, store, storageSystem, pipeline)

	log.Info().Str("address", env.ServerAddress).Msg("listening")
	if err := r.Run(env.ServerAddress); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func buildStorage(env Environment) storage.Storage {
	if env.UseSpaces {
		s, err := storage.NewSpacesStorage(
			env.SpacesEndpoint,
			env.SpacesRegion,
			env.SpacesBucket,
			env.SpacesCDNURL,
			env.SpacesAccessKey,
			env.SpacesSecretKey,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("spaces storage init")
		}
		return s
	}
	return storage.NewLocalStorage(env.UploadDir)
}

// runUploadJobs drains due upload jobs one at a time. Jobs are
// processed sequentially: the remote platform rate-limits, and two
// concurrent uploads for one advertiser could race the canonical media
// ID write.
func runUploadJobs(store db.Store, worker *upload.Worker) {
	const pollInterval = 30 * time.Second
	for {
		jobs, err := store.ListDueUploadJobs(time.Now())
		if err != nil {
			log.Error().Err(err).Msg("failed to list due upload jobs")
			time.Sleep(pollInterval)
			continue
		}
		for _, job := range jobs {
			if _, err := worker.Process(context.Background(), job); err != nil {
				log.Error().Err(err).Int("job_id", job.ID).Msg("upload job processing error")
			}
		}
		time.Sleep(pollInterval)
	}
}
