package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"pokerclub/internal/config"
	"pokerclub/internal/realtime"
	plog "pokerclub/pkg/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// NewSyncProducer 创建 Kafka 同步生产者
func NewSyncProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	plog.Log.Info("Kafka 生产者创建成功", zap.Strings("brokers", cfg.Brokers))
	return producer, nil
}

// KafkaPublisher 把玩家事件写入审计 topic，供下游（对账、报表）消费
// 以频道作为消息 key，同一玩家的事件落在同一分区，保持顺序
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ realtime.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev realtime.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Channel),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(ev.Event)},
			{Key: []byte("outbox_id"), Value: []byte(strconv.FormatInt(ev.ID, 10))},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka 发送失败: %w", err)
	}
	plog.Log.Debug("Kafka 事件已发送",
		zap.String("topic", p.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Int64("outbox_id", ev.ID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
