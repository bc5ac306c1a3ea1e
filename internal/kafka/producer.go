package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/investmentclub/treasury/internal/models"
)

// LedgerEvent is the envelope for events published after a ledger
// commit. Downstream consumers (reporting, display) key on EventType.
type LedgerEvent struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Producer publishes ledger events to Kafka, keyed by club so one
// club's events stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer for the ledger events topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// PublishTransaction publishes one committed ledger transaction.
func (p *Producer) PublishTransaction(ctx context.Context, tx *models.Transaction) error {
	return p.publish(ctx, tx.ClubID, "LEDGER_TRANSACTION_RECORDED", tx)
}

// PublishMemberTransaction publishes a committed member deposit or
// withdrawal.
func (p *Producer) PublishMemberTransaction(ctx context.Context, mtx *models.MemberTransaction) error {
	return p.publish(ctx, mtx.ClubID, "MEMBER_TRANSACTION_RECORDED", mtx)
}

// PublishSnapshot publishes a newly appended unit value snapshot.
func (p *Producer) PublishSnapshot(ctx context.Context, snap *models.UnitValueSnapshot) error {
	return p.publish(ctx, snap.ClubID, "UNIT_VALUE_SNAPSHOT_CREATED", snap)
}

func (p *Producer) publish(ctx context.Context, clubID int64, eventType string, data interface{}) error {
	event := LedgerEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Source:    "club-treasury",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(clubID, 10)),
		Value: payload,
	})
}

// Close closes the Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
