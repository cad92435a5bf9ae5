package handler

import (
	"net/http"

	"fileshare-go/internal/service"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理用户加入相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// JoinRequest 定义了加入服务 API 的请求体结构。
type JoinRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// Join 处理用户加入服务的请求，创建用户并返回访问令牌。
func (h *UserHandler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	user, tokenString, err := h.userService.Join(req.DisplayName)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":  user,
		"token": tokenString,
	})
}
