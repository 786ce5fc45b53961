// Package events announces job status changes to outside consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"vidpipe/job"
)

// JobStatusChanged is emitted every time the orchestrator moves a job to a new status.
type JobStatusChanged struct {
	EventID    uuid.UUID
	JobID      string
	From       job.Status
	To         job.Status
	Artifacts  job.Artifacts
	OccurredAt time.Time
}

func NewJobStatusChanged(j *job.Job, from job.Status) JobStatusChanged {
	return JobStatusChanged{
		EventID:    uuid.New(),
		JobID:      j.ID,
		From:       from,
		To:         j.Status,
		Artifacts:  j.Artifacts.Clone(),
		OccurredAt: time.Now().UTC(),
	}
}

func (e JobStatusChanged) MarshalJSON() ([]byte, error) {
	artifacts := make(map[string]string, len(e.Artifacts))
	for stage, path := range e.Artifacts {
		artifacts[stage.Field()] = path
	}
	return json.Marshal(struct {
		EventID    string            `json:"eventId"`
		Type       string            `json:"type"`
		JobID      string            `json:"jobId"`
		From       job.Status        `json:"from"`
		To         job.Status        `json:"to"`
		Artifacts  map[string]string `json:"artifacts"`
		OccurredAt time.Time         `json:"occurredAt"`
	}{
		EventID:    e.EventID.String(),
		Type:       "job.status_changed",
		JobID:      e.JobID,
		From:       e.From,
		To:         e.To,
		Artifacts:  artifacts,
		OccurredAt: e.OccurredAt,
	})
}

// Publisher delivers status events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e JobStatusChanged) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, JobStatusChanged) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

var ErrClosed = errors.New("publisher is closed")

// KafkaPublisher writes events to a topic keyed by job id, so one job's events stay ordered.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	closed atomic.Bool
	log    *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers list is empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaPublisher{writer: w, topic: topic, log: log}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e JobStatusChanged) error {
	if p.closed.Load() {
		return ErrClosed
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(e.JobID),
		Value: value,
		Time:  e.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	p.log.Debug("event published",
		zap.String("topic", p.topic),
		zap.String("job_id", e.JobID),
		zap.String("status", string(e.To)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return p.writer.Close()
}
