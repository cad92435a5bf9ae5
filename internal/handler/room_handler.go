package handler

import (
	"net/http"

	"fileshare-go/internal/middleware"
	"fileshare-go/internal/service"

	"github.com/gin-gonic/gin"
)

// RoomHandler 负责处理房间生命周期与成员管理的 API 请求。
type RoomHandler struct {
	roomService service.RoomService
}

// NewRoomHandler 创建一个新的 RoomHandler 实例。
func NewRoomHandler(roomService service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 定义了创建房间 API 的请求体结构。
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateRoom 处理创建房间的请求。
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	user := middleware.CurrentUser(c)
	room, err := h.roomService.CreateRoom(c.Request.Context(), req.Name, user.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// JoinRoomRequest 定义了按加入码加入房间 API 的请求体结构。
type JoinRoomRequest struct {
	Code string `json:"code" binding:"required"`
}

// JoinRoom 处理加入房间的请求。
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	user := middleware.CurrentUser(c)
	room, err := h.roomService.JoinRoom(c.Request.Context(), req.Code, user.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// LeaveRoom 处理离开房间的请求。
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if err := h.roomService.LeaveRoom(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers 按加入顺序返回房间成员。
func (h *RoomHandler) ListMembers(c *gin.Context) {
	members, err := h.roomService.ListMembers(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}
