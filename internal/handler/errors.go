// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"fileshare-go/internal/service"
	"fileshare-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// statusFor 把业务错误映射到 HTTP 状态码，与错误分类一一对应。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, service.ErrInvalidChunkIndex),
		errors.Is(err, service.ErrChunkSizeMismatch),
		errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, service.ErrInvalidDisplayName),
		errors.Is(err, service.ErrInvalidRoomName):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrFileNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotRoomMember):
		return http.StatusForbidden
	case errors.Is(err, service.ErrTooManyConcurrentUploads):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrSessionTerminal),
		errors.Is(err, service.ErrIncompleteUpload),
		errors.Is(err, service.ErrCodeGenerationExhausted):
		return http.StatusConflict
	case errors.Is(err, service.ErrStorageTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 以统一的 JSON 结构返回业务错误。
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("请求处理失败", err)
		c.JSON(status, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
