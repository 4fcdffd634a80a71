package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storytime-server/internal/model"
)

func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var statusCode int
	var errResp ErrorResponse

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		errResp = ErrorResponse{Code: ErrCodeValidation, Message: err.Error()}
	case errors.As(err, &maxBytesErr):
		statusCode = http.StatusRequestEntityTooLarge
		errResp = ErrorResponse{Code: ErrCodePayloadTooBig, Message: "Request body is too large"}
	case errors.Is(err, model.ErrNotFound):
		statusCode = http.StatusNotFound
		errResp = ErrorResponse{Code: ErrCodeNotFound, Message: "Story not found"}
	case errors.Is(err, model.ErrInvalidStatus):
		statusCode = http.StatusConflict
		errResp = ErrorResponse{Code: ErrCodeInvalidStatus, Message: err.Error()}
	case errors.Is(err, model.ErrStoryBusy):
		statusCode = http.StatusConflict
		errResp = ErrorResponse{Code: ErrCodeStoryBusy, Message: "Story already has an active run"}
	case errors.Is(err, model.ErrQueueFull):
		statusCode = http.StatusServiceUnavailable
		errResp = ErrorResponse{Code: ErrCodeQueueFull, Message: "Generation queue is full, try again later"}
		c.Header("Retry-After", "30")
	default:
		logger.Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = ErrorResponse{Code: ErrCodeInternal, Message: "An unexpected internal error occurred"}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: ErrCodeBadRequest, Message: message})
}
