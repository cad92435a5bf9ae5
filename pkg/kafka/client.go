// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"

	"fileshare-go/internal/config"
	"fileshare-go/pkg/log"
	"fileshare-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// Enabled 返回生产者是否已初始化。未配置 Kafka 时所有镜像调用都会被跳过。
func Enabled() bool {
	return producer != nil
}

// ProduceActivityRecord 发送一条房间动态审计记录到 Kafka。
// 发送失败只记录日志，绝不影响动态事件本身的投递。
func ProduceActivityRecord(record tasks.ActivityRecord) error {
	if producer == nil {
		return nil
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return err
	}

	err = producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(record.RoomID),
			Value: recordBytes,
		},
	)
	return err
}

// Close 关闭生产者连接。
func Close() {
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
}
