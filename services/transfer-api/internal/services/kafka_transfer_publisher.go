package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	kafkautils "github.com/ezpaylabs/transfer-engine/pkg/kafka"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/configs"
	"go.uber.org/zap"
)

type KafkaPublisher interface {
	PublishTransferEvent(event views.TransferEvent) error
	Close()
}

type KafkaPublisherImpl struct {
	logger   *zap.Logger
	producer *kafka.Producer
	cnf      *configs.Config
}

// NewKafkaPublisher creates and initializes a KafkaPublisher with the provided logger and configuration parameters.
func NewKafkaPublisher(logger *zap.Logger, ctx context.Context, cnf *configs.Config) KafkaPublisher {
	// Initialize Kafka topics
	topicConfig := kafkautils.KafkaConfig{
		BootstrapServers: cnf.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			{
				Topic:             cnf.KafkaTransferTopic,
				NumPartitions:     int(cnf.KafkaPartition),
				ReplicationFactor: 1,
				Config: map[string]string{
					"cleanup.policy": "delete",
					"retention.ms":   fmt.Sprintf("%d", cnf.KafkaRetention.Milliseconds()),
				},
			},
		},
	}
	err := kafkautils.InitKafkaTopics(logger, ctx, topicConfig)
	if err != nil {
		logger.Fatal("failed to initialize kafka topics", zap.Error(err))
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cnf.KafkaBrokers, // Kafka broker(s)
		"acks":               "all",            // Wait for all replicas
		"enable.idempotence": "true",           // Ensure messages are not sent twice
		"retries":            "1",              // Built-in retry mechanism
	})
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	logger.Info("kafka producer created successfully", zap.String("brokers", cnf.KafkaBrokers))
	go handleDeliveryReports(logger, p) // Async error handling
	return &KafkaPublisherImpl{
		logger:   logger,
		cnf:      cnf,
		producer: p,
	}
}

func (k *KafkaPublisherImpl) PublishTransferEvent(event views.TransferEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Partition by sender account so events for one account stay in order.
	partition := int32(partitionHash(event.SenderAccountID) % k.cnf.KafkaPartition)

	// Produce asynchronously; delivery results are handled by handleDeliveryReports
	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.cnf.KafkaTransferTopic,
			Partition: partition,
		},
		Key:   []byte(event.TransferID),
		Value: msgBytes,
	}, nil)
}

func (k *KafkaPublisherImpl) Close() {
	k.producer.Flush(5000)
	k.producer.Close()
}

func partitionHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func handleDeliveryReports(logger *zap.Logger, p *kafka.Producer) {
	for e := range p.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logger.Error("failed to publish message", zap.Error(ev.TopicPartition.Error))
			}
		}
	}
}
