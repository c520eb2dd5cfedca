package handlers

import (
	"net/http"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/utils"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LimitHandler struct {
	logger  *zap.Logger
	service services.LimitService
}

func NewLimitHandler(logger *zap.Logger, svc services.LimitService) *LimitHandler {
	return &LimitHandler{logger: logger, service: svc}
}

// RegisterRoutes registers limit routes. Admin mutations live under /admin.
func (h *LimitHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transfer-limit/:userId", h.Usage)

	admin := r.Group("/admin")
	admin.PUT("/transfer-limit/:userId", h.Update)
	admin.POST("/transfer-limit/:userId/reset", h.Reset)
}

func (h *LimitHandler) Usage(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid user id"))
		return
	}
	accountID := uuid.Nil
	if raw := c.Query("accountId"); raw != "" {
		if accountID, err = uuid.Parse(raw); err != nil {
			c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid account id"))
			return
		}
	}

	info, err := h.service.Usage(c.Request.Context(), traceID, userID, accountID)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, pkg.NewFailResponse(resp.Message))
		return
	}
	c.JSON(http.StatusOK, pkg.NewSuccessResponse(info, ""))
}

func (h *LimitHandler) Update(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid user id"))
		return
	}

	var req views.TransferLimitRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid request body"))
		return
	}

	info, err := h.service.Update(c.Request.Context(), traceID, userID, req)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, pkg.NewFailResponse(resp.Message))
		return
	}
	c.JSON(http.StatusOK, pkg.NewSuccessResponse(info, ""))
}

func (h *LimitHandler) Reset(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid user id"))
		return
	}

	info, err := h.service.Reset(c.Request.Context(), traceID, userID)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, pkg.NewFailResponse(resp.Message))
		return
	}
	c.JSON(http.StatusOK, pkg.NewSuccessResponse(info, ""))
}
