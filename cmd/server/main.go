// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fileshare-go/internal/config"
	"fileshare-go/internal/handler"
	"fileshare-go/internal/middleware"
	"fileshare-go/internal/repository"
	"fileshare-go/internal/service"
	"fileshare-go/pkg/blob"
	"fileshare-go/pkg/database"
	"fileshare-go/pkg/es"
	"fileshare-go/pkg/kafka"
	"fileshare-go/pkg/log"
	"fileshare-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化可选后端：未启用的一律退回进程内实现
	var store blob.Store
	if cfg.Storage.Backend == "minio" {
		var err error
		store, err = blob.NewMinIOStore(cfg.MinIO)
		if err != nil {
			log.Fatal("初始化 MinIO 块存储失败", err)
		}
	} else {
		store = blob.NewMemoryStore()
		log.Info("使用内存块存储")
	}

	var catalogRepo repository.CatalogRepository
	if cfg.Database.MySQL.Enabled {
		database.InitMySQL(cfg.Database.MySQL.DSN)
		catalogRepo = repository.NewCatalogRepository(database.DB)
	} else {
		catalogRepo = repository.NewMemoryCatalogRepository()
		log.Info("使用内存文件目录仓储")
	}

	var tracker repository.ChunkTracker
	if cfg.Database.Redis.Enabled {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		tracker = repository.NewRedisChunkTracker(database.RDB)
	} else {
		tracker = repository.NewMemoryChunkTracker()
		log.Info("使用内存分片跟踪器")
	}

	if cfg.Kafka.Enabled {
		kafka.InitProducer(cfg.Kafka)
		defer kafka.Close()
	}
	if cfg.Elasticsearch.Enabled {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Fatal("初始化 Elasticsearch 失败", err)
		}
	}

	// 4. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	userService := service.NewUserService(jwtManager)
	bus := service.NewActivityBus(cfg.Activity)
	catalogService := service.NewCatalogService(catalogRepo, store, bus, userService)
	roomService := service.NewRoomService(userService, bus, catalogService, cfg.Room)
	defer roomService.Close()
	uploadService := service.NewUploadService(roomService, userService, catalogService,
		store, tracker, bus, cfg.Upload, cfg.Storage)
	defer uploadService.Close()

	// 5. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 6. 注册路由
	authed := middleware.AuthMiddleware(jwtManager, userService)
	apiV1 := r.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			users.POST("/join", handler.NewUserHandler(userService).Join)
		}

		rooms := apiV1.Group("/rooms")
		rooms.Use(authed)
		{
			roomHandler := handler.NewRoomHandler(roomService)
			fileHandler := handler.NewFileHandler(catalogService)
			activityHandler := handler.NewActivityHandler(bus, roomService)

			rooms.POST("", roomHandler.CreateRoom)
			rooms.POST("/join", roomHandler.JoinRoom)
			rooms.POST("/:id/leave", roomHandler.LeaveRoom)
			rooms.GET("/:id/members", roomHandler.ListMembers)
			rooms.GET("/:id/files", fileHandler.ListFiles)
			rooms.GET("/:id/files/search", fileHandler.SearchFiles)
			rooms.GET("/:id/activity", activityHandler.Subscribe)
			rooms.GET("/:id/activity/log", activityHandler.ListActivity)
			rooms.POST("/:id/activity/clear", activityHandler.ClearActivity)
		}

		uploads := apiV1.Group("/uploads")
		uploads.Use(authed)
		{
			uploadHandler := handler.NewUploadHandler(uploadService)
			uploads.POST("", uploadHandler.BeginUpload)
			uploads.PUT("/:id/chunks/:index", uploadHandler.PutChunk)
			uploads.POST("/:id/complete", uploadHandler.CompleteUpload)
			uploads.POST("/:id/abort", uploadHandler.AbortUpload)
			uploads.GET("/:id", uploadHandler.GetSession)
		}

		files := apiV1.Group("/files")
		files.Use(authed)
		{
			fileHandler := handler.NewFileHandler(catalogService)
			files.GET("/:id/content", fileHandler.DownloadFile)
			files.DELETE("/:id", fileHandler.DeleteFile)
		}
	}

	// 7. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
