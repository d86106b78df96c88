// Package events publishes holding lifecycle transitions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mabot/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HoldingEvent is the message body for one applied transition.
type HoldingEvent struct {
	EventType  string          `json:"event_type"`
	Env        string          `json:"env"`
	Market     string          `json:"market"`
	Account    string          `json:"account"`
	Instrument string          `json:"instrument"`
	HoldingID  string          `json:"holding_id"`
	Status     string          `json:"status"`
	Quantity   int64           `json:"quantity"`
	OrderID    string          `json:"order_id"`
	Side       models.Side     `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Profit     decimal.Decimal `json:"profit"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Producer writes HoldingEvents keyed by holding id, so every event of one
// lot lands on the same partition.
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(writer, topic)
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic, now: time.Now}
}

func (p *Producer) PublishTransition(ctx context.Context, h models.Holding, o models.Order) error {
	event := HoldingEvent{
		EventType:  "HOLDING_" + h.Status.String(),
		Env:        h.Env,
		Market:     h.Market,
		Account:    h.Account,
		Instrument: h.Instrument,
		HoldingID:  h.HoldingID,
		Status:     h.Status.String(),
		Quantity:   h.Quantity,
		OrderID:    o.OrderID,
		Side:       o.Side,
		Price:      o.Price,
		Profit:     h.Profit,
		Timestamp:  p.now(),
	}
	return p.publish(ctx, h.HoldingID, event)
}

func (p *Producer) publish(ctx context.Context, key string, event HoldingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(key), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
