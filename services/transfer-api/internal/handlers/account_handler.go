package handlers

import (
	"net/http"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/utils"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AccountHandler struct {
	logger  *zap.Logger
	service services.AccountService
}

func NewAccountHandler(logger *zap.Logger, svc services.AccountService) *AccountHandler {
	return &AccountHandler{logger: logger, service: svc}
}

// RegisterRoutes registers account routes on the provided group.
func (h *AccountHandler) RegisterRoutes(r *gin.RouterGroup) {
	acc := r.Group("/account")
	acc.POST("", h.CreateAccount)
	acc.GET("/:accountNumber", h.LookupByNumber)
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}

	var req views.CreateAccountRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid request body"))
		return
	}

	account, err := h.service.CreateAccount(c.Request.Context(), traceID, req)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, pkg.NewFailResponse(resp.Message))
		return
	}
	c.JSON(http.StatusCreated, pkg.NewSuccessResponse(account, ""))
}

func (h *AccountHandler) LookupByNumber(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}

	account, err := h.service.LookupByNumber(c.Request.Context(), traceID, c.Param("accountNumber"))
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, pkg.NewFailResponse(resp.Message))
		return
	}
	c.JSON(http.StatusOK, pkg.NewSuccessResponse(account, ""))
}
