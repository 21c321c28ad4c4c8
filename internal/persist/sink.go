package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/bus"
	"main/internal/event"
)

// Record is one persisted event row. The dedup key makes redelivered events
// idempotent: the bus guarantees at-least-once, the unique index collapses
// duplicates to exactly-once in storage.
type Record struct {
	ID        uint      `gorm:"primaryKey"`
	DedupKey  string    `gorm:"uniqueIndex;size:128"`
	SessionID string    `gorm:"index;size:64"`
	Topic     string    `gorm:"index;size:32"`
	EntityID  string    `gorm:"size:128"`
	Timestamp time.Time `gorm:"index"`
	Payload   []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (Record) TableName() string { return "event_records" }

// Sink writes every bus event to PostgreSQL. Subscriptions are asynchronous
// so a slow database never stalls publishers.
type Sink struct {
	db   *gorm.DB
	hub  *bus.Bus
	subs []bus.Subscription
}

// NewSink creates a sink over an open database handle.
func NewSink(db *gorm.DB) *Sink {
	return &Sink{db: db}
}

// Migrate creates or updates the event table.
func (s *Sink) Migrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return errors.Wrap(err, "migrate event records")
	}
	return nil
}

// Start subscribes the sink to every topic.
func (s *Sink) Start(hub *bus.Bus) error {
	s.hub = hub
	for _, topic := range event.Topics() {
		sub, err := hub.SubscribeAsync(topic, s.onEvent)
		if err != nil {
			s.Stop()
			return errors.Wrap(err, "subscribe sink").With("topic", topic)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Stop detaches the sink from the bus.
func (s *Sink) Stop() {
	for _, sub := range s.subs {
		s.hub.Unsubscribe(sub)
	}
	s.subs = nil
}

func (s *Sink) onEvent(ctx context.Context, p event.Payload) error {
	record, err := toRecord(p)
	if err != nil {
		return err
	}

	// Conflicting dedup keys are redeliveries; drop them silently.
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		logs.Errorf("persist event, topic: %s, entity: %s, err: %+v", record.Topic, record.EntityID, result.Error)
		return result.Error
	}
	return nil
}

// toRecord flattens a payload into a storable row.
func toRecord(p event.Payload) (Record, error) {
	raw, err := sonic.Marshal(p)
	if err != nil {
		return Record{}, errors.Wrap(err, "marshal payload")
	}

	entityID, sessionID, ts := identity(p)
	return Record{
		DedupKey:  fmt.Sprintf("%d:%s", ts.UnixNano(), entityID),
		SessionID: sessionID,
		Topic:     string(p.Topic()),
		EntityID:  entityID,
		Timestamp: ts,
		Payload:   raw,
	}, nil
}

// identity extracts the durable entity id, session id and event time of a
// payload. Market data and indicator events have no session; they key on
// symbol alone.
func identity(p event.Payload) (entityID, sessionID string, ts time.Time) {
	switch e := p.(type) {
	case event.MarketData:
		return e.Symbol, "", e.Timestamp
	case event.IndicatorUpdate:
		return e.Indicator + "/" + e.Symbol, "", e.Timestamp
	case event.Signal:
		return e.SignalID, e.SessionID, e.Timestamp
	case event.OrderCreated:
		return e.OrderID, e.SessionID, e.Timestamp
	case event.OrderFilled:
		return e.OrderID, e.SessionID, e.Timestamp
	case event.PositionOpened:
		return e.PositionID, e.SessionID, e.Timestamp
	case event.PositionUpdated:
		return e.PositionID, e.SessionID, e.Timestamp
	case event.PositionClosed:
		return e.PositionID, e.SessionID, e.Timestamp
	case event.RiskAlert:
		return e.AlertID, e.SessionID, e.Timestamp
	default:
		return "", "", time.Now().UTC()
	}
}
