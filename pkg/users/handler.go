package users

import (
	"errors"
	"net/http"
	"strconv"

	"nftmarket/pkg/ledger"
	"nftmarket/pkg/response"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type UserHandler struct {
	service UserService
}

func NewUserHandler(service UserService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/users", h.getOrCreateUser)
	router.GET("/users", h.listUsers)
	router.GET("/users/:id", h.getUserByID)
	router.GET("/users/:id/assets", h.getProfile)
}

type getOrCreateUserRequest struct {
	ExternalID  int64  `json:"external_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

// @Summary      Get or create user
// @Description  Resolves a chat account to a local user, creating it on first contact. A changed display name is refreshed.
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body getOrCreateUserRequest true "Chat account"
// @Success      200 {object} response.APIResponse{data=ledger.User}
// @Failure      400 {object} response.APIResponse
// @Failure      500 {object} response.APIResponse
// @Router       /users [post]
func (h *UserHandler) getOrCreateUser(c *gin.Context) {
	var req getOrCreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	u, err := h.service.GetOrCreateUser(c.Request.Context(), req.ExternalID, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "user resolved", u)
}

// @Summary      Get user by ID
// @Tags         users
// @Produce      json
// @Param        id path int true "User ID"
// @Success      200 {object} response.APIResponse{data=ledger.User}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /users/{id} [get]
func (h *UserHandler) getUserByID(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	u, err := h.service.GetUserByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "user fetched", u)
}

// @Summary      User profile
// @Description  The user and the assets they own, in every status.
// @Tags         users
// @Produce      json
// @Param        id    path  int true  "User ID"
// @Param        page  query int false "Page number" default(1)
// @Param        limit query int false "Items per page" default(10)
// @Success      200 {object} response.APIResponse{data=Profile}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /users/{id}/assets [get]
func (h *UserHandler) getProfile(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	p, err := h.service.GetProfile(c.Request.Context(), id, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "profile fetched", p)
}

// @Summary      List users
// @Description  Lists users, or resolves one by chat account when external_id is given.
// @Tags         users
// @Produce      json
// @Param        page        query int false "Page number" default(1)
// @Param        limit       query int false "Items per page" default(10)
// @Param        external_id query int false "Chat account id"
// @Success      200 {object} response.APIResponse{data=ledger.UserList}
// @Failure      404 {object} response.APIResponse
// @Failure      500 {object} response.APIResponse
// @Router       /users [get]
func (h *UserHandler) listUsers(c *gin.Context) {
	if raw := c.Query("external_id"); raw != "" {
		externalID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid external_id", nil)
			return
		}
		u, err := h.service.GetUserByExternalID(c.Request.Context(), externalID)
		if err != nil {
			writeError(c, err)
			return
		}
		response.SendAPIResponse(c, http.StatusOK, true, "user fetched", u)
		return
	}

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

	items, total, err := h.service.ListUsers(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	data := ledger.UserList{Items: items, Total: total, Page: page, Limit: limit}
	response.SendAPIResponse(c, http.StatusOK, true, "users listed", data)
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid user id", nil)
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidExternalID), errors.Is(err, ledger.ErrInvalidID):
		response.SendAPIError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, ledger.ErrUserNotFound):
		response.SendAPIError(c, http.StatusNotFound, "not_found", "user not found")
	default:
		log.WithError(err).Error("user request failed")
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "internal server error", nil)
	}
}
