package assets

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/chain"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/response"
)

type AssetHandler struct {
	service  AssetService
	maxBytes int64
}

func NewAssetHandler(service AssetService, maxContentBytes int64) *AssetHandler {
	if maxContentBytes <= 0 {
		maxContentBytes = 10 << 20
	}
	return &AssetHandler{service: service, maxBytes: maxContentBytes}
}

func (h *AssetHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/assets", h.mintAsset)
	router.GET("/assets", h.listAssets)
	router.GET("/assets/:id", h.getAssetByID)
}

// @Summary      Mint a new asset
// @Description  Stores the uploaded content, records a pending asset and mints it. Without a chain the asset is active at once.
// @Tags         assets
// @Accept       multipart/form-data
// @Produce      json
// @Param        user_id   formData  int     true   "Owner user ID"
// @Param        name      formData  string  false  "Display name (defaults to NFT-<unix time>)"
// @Param        metadata  formData  string  false  "JSON object"
// @Param        file      formData  file    true   "Asset content"
// @Success      201  {object}  response.APIResponse{data=ledger.Asset} "Asset minted"
// @Failure      400  {object}  response.APIResponse "Invalid request"
// @Failure      502  {object}  response.APIResponse{data=ledger.Asset} "Content upload or mint failed"
// @Router       /assets [post]
func (h *AssetHandler) mintAsset(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "user_id must be positive", nil)
		return
	}

	var metadata map[string]any
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "metadata must be a JSON object", nil)
			return
		}
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "file is required", nil)
		return
	}
	if fileHeader.Size > h.maxBytes {
		response.SendAPIResponse(c, http.StatusRequestEntityTooLarge, false, "file too large", nil)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "cannot read file", nil)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "cannot read file", nil)
		return
	}

	asset, err := h.service.Mint(c.Request.Context(), MintRequest{
		OwnerID:  ownerID,
		Name:     c.PostForm("name"),
		Metadata: metadata,
		Content:  data,
	})
	if err != nil {
		WriteError(c, err, asset)
		return
	}

	response.SendAPIResponse(c, http.StatusCreated, true, "asset minted", asset)
}

// @Summary      Get asset by ID
// @Tags         assets
// @Produce      json
// @Param        id   path      int  true  "Asset ID"
// @Success      200  {object}  response.APIResponse{data=ledger.Asset} "Asset retrieved successfully"
// @Failure      400  {object}  response.APIResponse "Invalid asset ID"
// @Failure      404  {object}  response.APIResponse "Asset not found"
// @Router       /assets/{id} [get]
func (h *AssetHandler) getAssetByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid asset id", nil)
		return
	}

	asset, err := h.service.GetAssetByID(c.Request.Context(), id)
	if err != nil {
		WriteError(c, err, ledger.Asset{})
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "asset fetched", asset)
}

// @Summary      List all assets
// @Description  Paginated list of every asset regardless of status, newest first
// @Tags         assets
// @Produce      json
// @Param        page   query  int  false  "Page number" default(1)
// @Param        limit  query  int  false  "Items per page" default(10)
// @Success      200  {object}  response.APIResponse{data=ledger.AssetList}
// @Failure      500  {object}  response.APIResponse "Internal server error"
// @Router       /assets [get]
func (h *AssetHandler) listAssets(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	items, total, err := h.service.ListAssets(c.Request.Context(), page, limit)
	if err != nil {
		WriteError(c, err, ledger.Asset{})
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "assets listed", ledger.AssetList{Items: items, Total: total, Page: page, Limit: limit})
}

// WriteError maps registry errors onto the API envelope. asset is attached
// to mint failures so callers learn the id of the retained row.
func WriteError(c *gin.Context, err error, asset ledger.Asset) {
	switch {
	case errors.Is(err, ErrValidation):
		response.SendAPIError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, ledger.ErrAssetNotFound), errors.Is(err, ledger.ErrUserNotFound):
		response.SendAPIError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrContentUpload):
		response.SendAPIError(c, http.StatusBadGateway, "content_upload", err.Error())
	case errors.Is(err, ErrMintFailed):
		code := "mint_failed"
		if errors.Is(err, chain.ErrTimeout) {
			code = "mint_timeout"
		}
		response.SendAPIErrorWithData(c, http.StatusBadGateway, code, err.Error(), asset)
	case errors.Is(err, ErrMintPending):
		response.SendAPIError(c, http.StatusAccepted, "mint_pending", err.Error())
	case errors.Is(err, ErrNotRetryable):
		response.SendAPIError(c, http.StatusConflict, "not_retryable", err.Error())
	default:
		log.WithError(err).Error("asset request failed")
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "internal server error", nil)
	}
}
