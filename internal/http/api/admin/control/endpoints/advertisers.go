package endpoints

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/db"
	"github.com/doohlabs/playsync/internal/http/api"
	"github.com/doohlabs/playsync/internal/http/api/admin/control/packets"
	"github.com/doohlabs/playsync/internal/model"
	"github.com/doohlabs/playsync/internal/storage"
)

type AdvertiserController struct {
	store         db.Store
	storageSystem storage.Storage
}

// AdvertiserModule mounts advertiser CRUD plus video asset upload.
func AdvertiserModule(store db.Store, storageSystem storage.Storage) api.Module {
	ctl := &AdvertiserController{store: store, storageSystem: storageSystem}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/advertisers/:id", ctl.getAdvertiser)
		c.POST("/advertisers", ctl.createAdvertiser)
		c.PUT("/advertisers/:id", ctl.updateAdvertiser)
		c.POST("/advertisers/:id/asset", ctl.uploadAsset)
		c.GET("/advertisers/:id/upload_job", ctl.getUploadJob)
	})
}

func advertiserResponse(a model.Advertiser) packets.AdvertiserResponse {
	return packets.AdvertiserResponse{
		ID:               a.ID,
		Name:             a.Name,
		Active:           a.Active,
		Approved:         a.Approved,
		TargetRegions:    a.TargetRegions,
		TargetCities:     a.TargetCities,
		AssetPath:        a.AssetPath,
		CanonicalMediaID: a.CanonicalMediaID,
		PublishStatus:    a.PublishStatus,
	}
}

// GET /api/admin/advertisers/:id
func (t *AdvertiserController) getAdvertiser(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}
	a, err := t.store.GetAdvertiserByID(id)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusNotFound, Message: "advertiser not found"}
	}
	return advertiserResponse(a), nil
}

// POST /api/admin/advertisers
func (t *AdvertiserController) createAdvertiser(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	var request packets.CreateAdvertiserRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	a, err := t.store.CreateAdvertiser(request.Name, request.TargetRegions, request.TargetCities)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not create advertiser"}
	}
	return advertiserResponse(a), nil
}

// PUT /api/admin/advertisers/:id
func (t *AdvertiserController) updateAdvertiser(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}

	var req packets.UpdateAdvertiserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	if err := t.store.UpdateAdvertiser(id, req.Name, req.Active, req.Approved, req.TargetRegions, req.TargetCities); err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not update advertiser"}
	}

	updated, err := t.store.GetAdvertiserByID(id)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusNotFound, Message: "advertiser not found"}
	}
	return advertiserResponse(updated), nil
}

// POST /api/admin/advertisers/:id/asset
// Accepts a multipart video upload, saves it to storage, and enqueues
// an upload job for the background runner.
func (t *AdvertiserController) uploadAsset(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}
	if _, err := t.store.GetAdvertiserByID(id); err != nil {
		return nil, &api.APIError{Code: http.StatusNotFound, Message: "advertiser not found"}
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "missing file"}
	}

	path, err := t.storageSystem.SaveFile(fileHeader, fileHeader.Filename)
	if err != nil {
		log.Error().Err(err).Int("advertiser_id", id).Msg("failed to store advertiser asset")
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not store file"}
	}

	if err := t.store.SetAdvertiserAsset(id, path); err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not record asset"}
	}

	job, err := t.store.CreateUploadJob(id, path)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusInternalServerError, Message: "could not enqueue upload"}
	}
	return uploadJobResponse(job), nil
}

// GET /api/admin/advertisers/:id/upload_job
func (t *AdvertiserController) getUploadJob(ctx *gin.Context, user *model.User) (any, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: "invalid id"}
	}
	job, err := t.store.LatestUploadJobForAdvertiser(id)
	if err != nil {
		return nil, &api.APIError{Code: http.StatusNotFound, Message: "no upload job for advertiser"}
	}
	return uploadJobResponse(job), nil
}

func uploadJobResponse(j model.UploadJob) packets.UploadJobResponse {
	resp := packets.UploadJobResponse{
		ID:            j.ID,
		AdvertiserID:  j.AdvertiserID,
		Status:        j.Status,
		Attempts:      j.Attempts,
		RemoteMediaID: j.RemoteMediaID,
		LastError:     j.LastError,
	}
	if j.NextRetryAt != nil {
		s := j.NextRetryAt.Format(time.RFC3339)
		resp.NextRetryAt = &s
	}
	return resp
}
