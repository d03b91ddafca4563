package endpoints

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/http/api"
	"github.com/doohlabs/playsync/internal/http/api/admin/control/packets"
	"github.com/doohlabs/playsync/internal/model"
	"github.com/doohlabs/playsync/internal/publish"
)

type PublishController struct {
	pipeline *publish.Pipeline
}

// PublishModule mounts the publish, batch reconcile, and playback
// diagnostics endpoints.
func PublishModule(pipeline *publish.Pipeline) api.Module {
	ctl := &PublishController{pipeline: pipeline}
	return api.ModuleFunc(func(c *api.Controller) {
		c.POST("/advertisers/:id/publish", ctl.publishAdvertiser)
		c.POST("/reconcile", ctl.reconcileLocation)
		c.GET("/screens/:id/playback", ctl.getScreenPlayback)
	})
}

// POST /api/admin/advertisers/:id/publish
func (t *PublishController) publishAdvertiser(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}

	result, err := t.pipeline.Publish(ctx.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("publish failed")
		if result != nil {
			// partial results still matter to the caller
			return result, nil
		}
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: err.Error()}
	}
	return result, nil
}

// POST /api/admin/reconcile
func (t *PublishController) reconcileLocation(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	var req packets.ReconcileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	reports, err := t.pipeline.ReconcileLocation(ctx.Request.Context(), req.LocationID, req.Push)
	if err != nil {
		log.Error().Err(err).Msg("batch reconcile failed")
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: err.Error()}
	}
	return reports, nil
}

// GET /api/admin/screens/:id/playback
func (t *PublishController) getScreenPlayback(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}

	state, err := t.pipeline.ScreenPlaybackState(ctx.Request.Context(), id)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: err.Error()}
	}
	return state, nil
}
