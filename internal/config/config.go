// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Upload        UploadConfig        `mapstructure:"upload"`
	Room          RoomConfig          `mapstructure:"room"`
	Activity      ActivityConfig      `mapstructure:"activity"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// UploadConfig 存储上传策略的配置，进程启动后固定不变。
type UploadConfig struct {
	MaxFileSizeBytes            int64    `mapstructure:"max_file_size_bytes"`
	ChunkSizeBytes              int64    `mapstructure:"chunk_size_bytes"`
	MaxConcurrentUploadsPerRoom int      `mapstructure:"max_concurrent_uploads_per_room"`
	AllowedExtensions           []string `mapstructure:"allowed_extensions"`
}

// RoomConfig 存储房间生命周期相关的配置。
// EmptyGraceSeconds 为 0 时不回收空房间。
type RoomConfig struct {
	CodeLength        int `mapstructure:"code_length"`
	EmptyGraceSeconds int `mapstructure:"empty_grace_seconds"`
}

// ActivityConfig 存储房间动态日志相关的配置。
type ActivityConfig struct {
	RingCapacity     int `mapstructure:"ring_capacity"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// StorageConfig 存储块存储后端的配置。
// Backend 可选 "memory" 或 "minio"；TimeoutMillis 是单次块写入的超时上限。
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	TimeoutMillis int    `mapstructure:"timeout_millis"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。Enabled 为 false 时文件目录使用内存仓储。
type MySQLConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Enabled 为 false 时分片位图使用内存实现。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// KafkaConfig 存储 Kafka 相关的配置。Enabled 为 false 时不镜像动态事件。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
