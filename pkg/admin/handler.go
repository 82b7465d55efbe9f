package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"nftmarket/pkg/assets"
	"nftmarket/pkg/response"
)

type AdminHandler struct {
	service   AdminService
	tokenHash string
}

// NewAdminHandler guards every route with a bearer token checked against
// tokenHash (bcrypt). With an empty hash the admin routes answer 503.
func NewAdminHandler(service AdminService, tokenHash string) *AdminHandler {
	return &AdminHandler{service: service, tokenHash: tokenHash}
}

func (h *AdminHandler) RegisterRoutes(router *gin.Engine) {
	g := router.Group("/admin", RequireToken(h.tokenHash))
	g.GET("/report", h.report)
	g.GET("/faults", h.listFaults)
	g.POST("/assets/:id/retry-mint", h.retryMint)
	g.POST("/reconcile", h.reconcile)
}

// RequireToken rejects requests whose bearer token does not match hash.
func RequireToken(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash == "" {
			response.SendAPIError(c, http.StatusServiceUnavailable, "admin_disabled", "admin access is not configured")
			c.Abort()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			response.SendAPIError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			log.WithField("remote", c.ClientIP()).Warn("admin token rejected")
			response.SendAPIError(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			c.Abort()
			return
		}
		c.Next()
	}
}

// @Summary      Ledger report
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        page  query int false "Page number" default(1)
// @Param        limit query int false "Items per page" default(50)
// @Success      200 {object} response.APIResponse{data=Report}
// @Failure      401 {object} response.APIResponse
// @Router       /admin/report [get]
func (h *AdminHandler) report(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rep, err := h.service.BuildReport(c.Request.Context(), page, limit)
	if err != nil {
		log.WithError(err).Error("admin report failed")
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "internal server error", nil)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "report", rep)
}

// @Summary      Recent consistency faults
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} response.APIResponse{data=[]faults.Fault}
// @Failure      401 {object} response.APIResponse
// @Router       /admin/faults [get]
func (h *AdminHandler) listFaults(c *gin.Context) {
	response.SendAPIResponse(c, http.StatusOK, true, "recent faults", h.service.Faults())
}

// @Summary      Retry a failed mint
// @Description  Re-queries a timed-out mint transaction; resubmits only when the previous attempt is known rejected. A mint whose submission outcome is unknown is refused.
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Asset ID"
// @Success      200 {object} response.APIResponse{data=ledger.Asset}
// @Failure      401 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse "Asset is not mint_failed, or its submission outcome is unknown"
// @Failure      502 {object} response.APIResponse "Mint failed again"
// @Router       /admin/assets/{id}/retry-mint [post]
func (h *AdminHandler) retryMint(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid asset id", nil)
		return
	}

	asset, err := h.service.RetryMint(c.Request.Context(), id)
	if err != nil {
		assets.WriteError(c, err, asset)
		return
	}
	log.WithFields(log.Fields{"asset_id": id, "status": asset.Status}).Info("admin mint retry")
	response.SendAPIResponse(c, http.StatusOK, true, "mint retried", asset)
}

// @Summary      Run one reconciliation pass
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} response.APIResponse{data=reconcile.Report}
// @Failure      401 {object} response.APIResponse
// @Router       /admin/reconcile [post]
func (h *AdminHandler) reconcile(c *gin.Context) {
	rep, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("admin reconcile failed")
		response.SendAPIResponse(c, http.StatusInternalServerError, false, err.Error(), nil)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "reconciled", rep)
}
