package handler

import (
	"net/http"
	"time"

	"fileshare-go/internal/model"
	"fileshare-go/internal/service"
	"fileshare-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

const writeWait = 10 * time.Second

// ActivityHandler 负责房间动态的订阅流与清空操作。
type ActivityHandler struct {
	bus         *service.ActivityBus
	roomService service.RoomService
}

// NewActivityHandler 创建一个新的 ActivityHandler 实例。
func NewActivityHandler(bus *service.ActivityBus, roomService service.RoomService) *ActivityHandler {
	return &ActivityHandler{bus: bus, roomService: roomService}
}

// Subscribe 把请求升级为 WebSocket 连接并推送房间动态。
// 先发送环形缓冲的当前快照，随后持续推送新事件；慢消费者由总线侧丢弃最旧事件兜底。
func (h *ActivityHandler) Subscribe(c *gin.Context) {
	roomID := c.Param("id")
	if _, err := h.roomService.GetRoom(roomID); err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	snapshot, events, cancel := h.bus.Subscribe(roomID)
	defer cancel()

	log.Infof("[Subscribe] 动态订阅已建立, room: %s", roomID)

	for _, event := range snapshot {
		if err := h.writeEvent(conn, event); err != nil {
			return
		}
	}

	// 读协程只为感知客户端断开。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// 房间被回收，通知客户端正常关闭。
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "room closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.writeEvent(conn, event); err != nil {
				log.Warnf("[Subscribe] 推送动态失败: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}

func (h *ActivityHandler) writeEvent(conn *websocket.Conn, event model.ActivityEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

// ListActivity 返回房间当前的动态快照（最新的在前），供非长连接客户端轮询。
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	roomID := c.Param("id")
	if _, err := h.roomService.GetRoom(roomID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": h.bus.Snapshot(roomID)})
}

// ClearActivity 清空房间的动态缓冲，对所有订阅者生效。
func (h *ActivityHandler) ClearActivity(c *gin.Context) {
	roomID := c.Param("id")
	if _, err := h.roomService.GetRoom(roomID); err != nil {
		abortWithError(c, err)
		return
	}
	h.bus.Clear(roomID)
	c.Status(http.StatusNoContent)
}
