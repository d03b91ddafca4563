package main

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/doohlabs/playsync/internal/db"
	"github.com/doohlabs/playsync/internal/http/api"
	authapi "github.com/doohlabs/playsync/internal/http/api/admin/auth/endpoints"
	adminapi "github.com/doohlabs/playsync/internal/http/api/admin/control/endpoints"
	"github.com/doohlabs/playsync/internal/publish"
	"github.com/doohlabs/playsync/internal/storage"
)

// RegisterRoutes sets up all application routes
func RegisterRoutes(r *gin.Engine, env Environment, store db.Store, storageSystem storage.Storage, pipeline *publish.Pipeline) {
	// CORS
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			"GET",
			"POST",
			"PUT",
			"PATCH",
			"DELETE",
			"OPTIONS",
			"HEAD",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"Accept",
		},
		ExposeHeaders: []string{
			"Content-Length",
		},
		AllowCredentials: false,
	}))

	api.MountGroup(r, api.GroupConfig{
		Prefix: "/api/admin",
		Auth:   false,
	},
		authapi.AuthPublicModule(env.SecretKey, store),
	)

	api.MountGroup(r, api.GroupConfig{
		Prefix:    "/api/admin",
		Auth:      true,
		SecretKey: env.SecretKey,
	},
		// control modules
		adminapi.ScreenModule(store),
		adminapi.AdvertiserModule(store, storageSystem),
		adminapi.PublishModule(pipeline),
		// session endpoints that require auth
		authapi.AuthSessionModule(env.SecretKey, store),
	)
}
