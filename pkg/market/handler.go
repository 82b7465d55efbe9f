package market

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/chain"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/response"
)

type MarketHandler struct {
	service MarketService
}

func NewMarketHandler(service MarketService) *MarketHandler {
	return &MarketHandler{service: service}
}

func (h *MarketHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/market", h.browse)
	router.PATCH("/assets/:id/list", h.listAsset)
	router.PATCH("/assets/:id/unlist", h.unlistAsset)
	router.POST("/assets/:id/buy", h.buyAsset)
}

// @Summary      Browse the marketplace
// @Description  Returns active listed assets, newest first.
// @Tags         market
// @Produce      json
// @Param        limit  query     int  false  "Max items (default 10, max 100)"
// @Success      200    {object}  response.APIResponse{data=[]ledger.Asset}
// @Failure      500    {object}  response.APIResponse "Internal server error"
// @Router       /market [get]
func (h *MarketHandler) browse(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	items, err := h.service.Browse(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "listed assets", items)
}

// @Summary      List an asset for sale
// @Tags         market
// @Accept       json
// @Produce      json
// @Param        id       path      int          true  "Asset ID"
// @Param        payload  body      ListRequest  true  "Owner and price in minor units"
// @Success      200      {object}  response.APIResponse{data=ledger.Asset}
// @Failure      400      {object}  response.APIResponse "Invalid request"
// @Failure      403      {object}  response.APIResponse "Not the owner"
// @Failure      404      {object}  response.APIResponse "Asset not found"
// @Failure      409      {object}  response.APIResponse "Asset not active"
// @Router       /assets/{id}/list [patch]
func (h *MarketHandler) listAsset(c *gin.Context) {
	id, ok := assetID(c)
	if !ok {
		return
	}
	var req ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request body", nil)
		return
	}

	asset, err := h.service.List(c.Request.Context(), req.UserID, id, req.Price)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "asset listed", asset)
}

// @Summary      Withdraw an asset from sale
// @Tags         market
// @Accept       json
// @Produce      json
// @Param        id       path      int           true  "Asset ID"
// @Param        payload  body      OwnerRequest  true  "Owner"
// @Success      200      {object}  response.APIResponse{data=ledger.Asset}
// @Failure      403      {object}  response.APIResponse "Not the owner"
// @Failure      404      {object}  response.APIResponse "Asset not found"
// @Router       /assets/{id}/unlist [patch]
func (h *MarketHandler) unlistAsset(c *gin.Context) {
	id, ok := assetID(c)
	if !ok {
		return
	}
	var req OwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request body", nil)
		return
	}

	asset, err := h.service.Unlist(c.Request.Context(), req.UserID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "asset unlisted", asset)
}

// @Summary      Buy a listed asset
// @Description  Transfers ownership to the buyer (on chain first when the asset has a real token).
// @Tags         market
// @Accept       json
// @Produce      json
// @Param        id       path      int           true  "Asset ID"
// @Param        payload  body      OwnerRequest  true  "Buyer"
// @Success      200      {object}  response.APIResponse{data=Receipt}
// @Failure      404      {object}  response.APIResponse "Asset or buyer not found"
// @Failure      409      {object}  response.APIResponse "Not listed, own asset or ownership divergence"
// @Failure      502      {object}  response.APIResponse "Chain transfer failed"
// @Router       /assets/{id}/buy [post]
func (h *MarketHandler) buyAsset(c *gin.Context) {
	id, ok := assetID(c)
	if !ok {
		return
	}
	var req OwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request body", nil)
		return
	}

	receipt, err := h.service.Buy(c.Request.Context(), req.UserID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "purchase complete", receipt)
}

func assetID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid asset id", nil)
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ledger.ErrInvalidID):
		response.SendAPIError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, ErrNotOwner):
		response.SendAPIError(c, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, ledger.ErrAssetNotFound), errors.Is(err, ledger.ErrUserNotFound):
		response.SendAPIError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrNotListed):
		response.SendAPIError(c, http.StatusConflict, "not_listed", err.Error())
	case errors.Is(err, ErrSelfPurchase):
		response.SendAPIError(c, http.StatusConflict, "self_purchase", err.Error())
	case errors.Is(err, ErrAssetNotActive):
		response.SendAPIError(c, http.StatusConflict, "not_active", err.Error())
	case errors.Is(err, ErrOwnershipDivergence):
		response.SendAPIError(c, http.StatusConflict, "ownership_divergence", err.Error())
	case errors.Is(err, ErrChainTransfer):
		code := "chain_transfer"
		if errors.Is(err, chain.ErrTimeout) {
			code = "chain_timeout"
		}
		response.SendAPIError(c, http.StatusBadGateway, code, err.Error())
	default:
		log.WithError(err).Error("market request failed")
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "internal server error", nil)
	}
}
