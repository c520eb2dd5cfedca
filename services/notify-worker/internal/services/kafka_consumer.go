package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/ezpaylabs/transfer-engine/pkg"
	kafkautils "github.com/ezpaylabs/transfer-engine/pkg/kafka"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/notify-worker/configs"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// KafkaTransferHandler consumes terminal transfer events and records
// notifications for them.
type KafkaTransferHandler interface {
	Start() func()
}

// KafkaTransferConfig holds configuration and dependencies for the transfer
// event consumer.
type KafkaTransferConfig struct {
	Context       context.Context
	Logger        *zap.Logger
	Config        *configs.Config
	Notifications NotificationService

	// internal initialization
	consumer    *kafka.Consumer
	dlqProducer *kafka.Producer
	commits     *kafkautils.CommitManager
	validate    *validator.Validate
	jobSem      chan struct{} // Semaphore to limit concurrent event processing
}

// NewKafkaTransferConsumer initializes the consumer, DLQ producer, offset
// commit manager, and concurrency semaphore.
func NewKafkaTransferConsumer(cfg KafkaTransferConfig) KafkaTransferHandler {
	// Ensure the DLQ topic exists before consuming
	err := kafkautils.InitKafkaTopics(cfg.Logger, cfg.Context, kafkautils.KafkaConfig{
		BootstrapServers: cfg.Config.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			{
				Topic:             cfg.Config.KafkaDLQTopic,
				NumPartitions:     int(cfg.Config.KafkaPartition),
				ReplicationFactor: 1,
				Config: map[string]string{
					"cleanup.policy": "delete",
					"retention.ms":   fmt.Sprintf("%d", cfg.Config.KafkaDLQRetention.Milliseconds()),
				},
			},
		},
	})
	if err != nil {
		cfg.Logger.Fatal("failed to initialize kafka topics", zap.Error(err))
	}

	kafkaConsumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,       // List of Kafka broker addresses
		"group.id":           cfg.Config.KafkaConsumerGroup, // Consumer group ID for load balancing
		"auto.offset.reset":  "earliest",                    // Start from the earliest offset if no prior offset
		"enable.auto.commit": false,                         // Manual offset management
	})
	if err != nil {
		cfg.Logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}

	dlqProducer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"acks":               "all",
		"enable.idempotence": true, // Ensure messages are not duplicated
	})
	if err != nil {
		cfg.Logger.Fatal("failed to create DLQ producer", zap.Error(err))
	}

	cfg.jobSem = make(chan struct{}, cfg.Config.MaxConcurrentJobs)
	cfg.consumer = kafkaConsumer
	cfg.dlqProducer = dlqProducer
	cfg.commits = kafkautils.NewCommitManager(kafkaConsumer, cfg.Logger)
	cfg.validate = validator.New()
	return &cfg
}

// Start initiates the consumption loop and returns a cleanup function.
func (k *KafkaTransferConfig) Start() func() {
	err := k.consumer.SubscribeTopics([]string{k.Config.KafkaTransferTopic}, nil)
	if err != nil {
		k.Logger.Fatal("failed to subscribe to kafka topic", zap.Error(err))
	}

	k.Logger.Info("listening to kafka topic",
		zap.String("topic", k.Config.KafkaTransferTopic),
		zap.String("group", k.Config.KafkaConsumerGroup))

	go func() {
		for {
			select {
			case <-k.Context.Done():
				return
			default:
			}
			msg, err := k.consumer.ReadMessage(time.Second)
			if err != nil {
				var kafkaErr kafka.Error
				if errors.As(err, &kafkaErr) && kafkaErr.IsTimeout() {
					continue
				}
				k.Logger.Error("failed to read kafka message", zap.Error(err))
				continue
			}
			// Acquire semaphore slot, blocking if the limit is reached
			k.jobSem <- struct{}{}
			go func(m *kafka.Message) {
				defer func() { <-k.jobSem }()
				k.processMessage(m)
			}(msg)
		}
	}()

	return func() {
		if k.dlqProducer != nil {
			k.dlqProducer.Flush(5000)
			k.dlqProducer.Close()
		}
		if err := k.consumer.Close(); err != nil {
			k.Logger.Error("failed to close kafka consumer", zap.Error(err))
			return
		}
		k.Logger.Info("kafka consumer closed successfully")
	}
}

// processMessage decodes, validates, and records one transfer event. Poison
// messages go to the DLQ and are acknowledged so they are not reprocessed.
func (k *KafkaTransferConfig) processMessage(msg *kafka.Message) {
	select {
	case <-k.Context.Done():
		return
	default:
	}

	var event views.TransferEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		k.Logger.Error("failed to decode transfer event", zap.Error(err))
		k.sendToDLQ(msg, "json unmarshal error", err.Error())
		k.commits.Ack(event.TransferID, msg)
		return
	}

	if err := k.validate.Struct(&event); err != nil {
		k.Logger.Error("failed to validate transfer event",
			zap.String(pkg.TransferId, event.TransferID), zap.Error(err))
		k.sendToDLQ(msg, "validation error", err.Error())
		k.commits.Ack(event.TransferID, msg)
		return
	}

	if err := k.Notifications.Record(k.Context, event); err != nil {
		k.Logger.Error("failed to record notifications, sending to DLQ",
			zap.String(pkg.TransferId, event.TransferID), zap.Error(err))
		k.sendToDLQ(msg, "record notification error", err.Error())
		k.commits.Ack(event.TransferID, msg)
		return
	}

	k.commits.Ack(event.TransferID, msg)
}

// sendToDLQ wraps the failed message with failure metadata and produces it to
// the dead letter topic.
func (k *KafkaTransferConfig) sendToDLQ(original *kafka.Message, reason, errMsg string) {
	payload := map[string]any{
		"originalTopic":     topicOf(original),
		"originalPartition": original.TopicPartition.Partition,
		"originalOffset":    original.TopicPartition.Offset,
		"value":             string(original.Value),
		"failureReason":     reason,
		"error":             errMsg,
		"failedAt":          time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		k.Logger.Error("failed to marshal DLQ payload", zap.Error(err))
		return
	}

	err = k.dlqProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.Config.KafkaDLQTopic,
			Partition: kafka.PartitionAny,
		},
		Key:   original.Key,
		Value: b,
	}, nil)
	if err != nil {
		k.Logger.Error("failed to produce to DLQ", zap.Error(err))
		return
	}
	k.Logger.Info("sent to DLQ", zap.String("reason", reason))
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}
