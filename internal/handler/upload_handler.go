package handler

import (
	"io"
	"net/http"
	"strconv"

	"fileshare-go/internal/middleware"
	"fileshare-go/internal/service"
	"fileshare-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// calculateProgress is a helper function to calculate upload progress.
func calculateProgress(receivedCount, totalChunks int) float64 {
	if totalChunks == 0 {
		return 0.0
	}
	return (float64(receivedCount) / float64(totalChunks)) * 100
}

// UploadHandler 负责处理所有与分片上传相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// BeginUploadRequest 定义了开启上传会话 API 的请求体结构。
type BeginUploadRequest struct {
	RoomID   string `json:"roomId" binding:"required"`
	FileName string `json:"fileName" binding:"required"`
	Size     int64  `json:"size" binding:"required"`
	MimeType string `json:"mimeType"`
}

// BeginUpload 处理开启上传会话的请求。
func (h *UploadHandler) BeginUpload(c *gin.Context) {
	var req BeginUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	user := middleware.CurrentUser(c)
	session, err := h.uploadService.BeginUpload(c.Request.Context(),
		req.RoomID, user.ID, req.FileName, req.Size, req.MimeType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// PutChunk 处理单个分片的上传，请求体为原始二进制。
func (h *UploadHandler) PutChunk(c *gin.Context) {
	chunkIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的分片索引"})
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能读取分片数据"})
		return
	}

	received, total, err := h.uploadService.PutChunk(c.Request.Context(), c.Param("id"), chunkIndex, data)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receivedCount": received,
		"totalChunks":   total,
		"progress":      calculateProgress(received, total),
	})
}

// CompleteUpload 处理完成上传的请求。
func (h *UploadHandler) CompleteUpload(c *gin.Context) {
	file, err := h.uploadService.CompleteUpload(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	log.Infof("[CompleteUpload] 文件上传完成, fileID: %s", file.ID)
	c.JSON(http.StatusOK, file)
}

// AbortUpload 处理中止上传的请求。
func (h *UploadHandler) AbortUpload(c *gin.Context) {
	if err := h.uploadService.AbortUpload(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSession 处理查询上传会话状态的请求。
func (h *UploadHandler) GetSession(c *gin.Context) {
	session, err := h.uploadService.GetSession(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"progress": calculateProgress(len(session.Received), session.TotalChunks),
	})
}
