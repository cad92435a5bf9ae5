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

// FileHandler 负责处理文件目录与内容下载的 API 请求。
type FileHandler struct {
	catalogService service.CatalogService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(catalogService service.CatalogService) *FileHandler {
	return &FileHandler{catalogService: catalogService}
}

// ListFiles 返回房间内的文件列表，最新的在前。
func (h *FileHandler) ListFiles(c *gin.Context) {
	files, err := h.catalogService.List(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// SearchFiles 在房间内按文件名搜索。
func (h *FileHandler) SearchFiles(c *gin.Context) {
	files, err := h.catalogService.Search(c.Request.Context(), c.Param("id"), c.Query("q"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// DownloadFile 以二进制流返回文件内容。
func (h *FileHandler) DownloadFile(c *gin.Context) {
	user := middleware.CurrentUser(c)
	file, reader, err := h.catalogService.OpenContent(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	c.Header("Content-Length", strconv.FormatInt(file.Size, 10))
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, reader); err != nil {
		// 响应头已发出，只能记录错误并中断连接。
		log.Errorf("[DownloadFile] 写出文件内容失败, fileID: %s, error: %v", file.ID, err)
	}
}

// DeleteFile 删除一个文件并释放其存储。
func (h *FileHandler) DeleteFile(c *gin.Context) {
	if err := h.catalogService.Remove(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
