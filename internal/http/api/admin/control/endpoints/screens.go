package endpoints

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/doohlabs/playsync/internal/db"
	"github.com/doohlabs/playsync/internal/http/api"
	"github.com/doohlabs/playsync/internal/http/api/admin/control/packets"
	"github.com/doohlabs/playsync/internal/model"
)

type ScreenController struct {
	store db.Store
}

// ScreenModule mounts screen CRUD under the authed admin group.
func ScreenModule(store db.Store) api.Module {
	ctl := &ScreenController{store: store}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/screens", ctl.listScreens)
		c.POST("/screens", ctl.createScreen)
		c.GET("/screens/:id", ctl.getScreen)
		c.PUT("/screens/:id", ctl.updateScreen)
	})
}

func screenResponse(s model.Screen) packets.ScreenResponse {
	return packets.ScreenResponse{
		ID:                 s.ID,
		Name:               s.Name,
		YodeckPlayerID:     s.YodeckPlayerID,
		LocationID:         s.LocationID,
		City:               s.City,
		Region:             s.Region,
		BaselinePlaylistID: s.BaselinePlaylistID,
		AdsPlaylistID:      s.AdsPlaylistID,
		CombinedPlaylistID: s.CombinedPlaylistID,
		LastPushAt:         s.LastPushAt,
		LastPushOK:         s.LastPushOK,
		LastVerifyAt:       s.LastVerifyAt,
		LastVerifyOK:       s.LastVerifyOK,
		CreatedAt:          s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          s.UpdatedAt.Format(time.RFC3339),
	}
}

// GET /api/admin/screens
func (t *ScreenController) listScreens(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	all, err := t.store.ListScreens()
	if err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: err.Error()}
	}

	out := make([]packets.ScreenResponse, 0, len(all))
	for _, s := range all {
		out = append(out, screenResponse(s))
	}
	return out, nil
}

// POST /api/admin/screens
func (t *ScreenController) createScreen(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	var request packets.CreateScreenRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	screen, err := t.store.CreateScreen(request.Name, request.YodeckPlayerID, request.LocationID, request.City, request.Region)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not create screen"}
	}
	return screenResponse(screen), nil
}

// GET /api/admin/screens/:id
func (t *ScreenController) getScreen(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}
	s, err := t.store.GetScreenByID(id)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusNotFound, Message: "screen not found"}
	}
	return screenResponse(s), nil
}

// PUT /api/admin/screens/:id
func (t *ScreenController) updateScreen(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}

	if _, err := t.store.GetScreenByID(id); err != nil {
		return nil, &api.APIError{Code: http.StatusNotFound, Message: "screen not found"}
	}

	var req packets.UpdateScreenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	if err := t.store.UpdateScreen(id, req.Name, req.YodeckPlayerID, req.LocationID, req.City, req.Region); err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not update screen"}
	}

	updated, err := t.store.GetScreenByID(id)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not load screen"}
	}
	return screenResponse(updated), nil
}
