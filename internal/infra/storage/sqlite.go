// Package storage persists the order event stream to SQLite. Order
// state itself lives in the books; the journal is what lets an
// operator reconstruct how any order got where it is.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"trigger_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OrderEvent is one journal row.
type OrderEvent struct {
	ID            uint   `gorm:"primarykey"`
	Book          string `gorm:"index"`
	Name          string
	OrderID       uint64 `gorm:"index"`
	TokenIn       string
	TokenOut      string
	Amount        string
	Recipient     string
	TakeProfitLeg bool
	At            time.Time
}

// Storage is the journal handle.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the journal at path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = filepath.Join("data", "trigger.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&OrderEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// SaveEvent appends one event to the journal.
func (s *Storage) SaveEvent(ev domain.Event) error {
	var row OrderEvent
	switch e := ev.(type) {
	case *domain.OrderCreated:
		row = OrderEvent{
			Book:      e.Book,
			Name:      e.EventName(),
			OrderID:   e.OrderID,
			TokenIn:   e.TokenIn.Hex(),
			TokenOut:  e.TokenOut.Hex(),
			Amount:    e.AmountIn.String(),
			Recipient: e.Recipient.Hex(),
			At:        e.At,
		}
	case *domain.OrderProcessed:
		row = OrderEvent{
			Book:          e.Book,
			Name:          e.EventName(),
			OrderID:       e.OrderID,
			TokenOut:      e.TokenOut.Hex(),
			Amount:        e.AmountOut.String(),
			TakeProfitLeg: e.TakeProfitLeg,
			At:            e.At,
		}
	case *domain.OrderCancelled:
		row = OrderEvent{
			Book:    e.Book,
			Name:    e.EventName(),
			OrderID: e.OrderID,
			Amount:  e.Refunded.String(),
			At:      e.At,
		}
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
	return s.db.Create(&row).Error
}

// Events returns an order's journal in write order.
func (s *Storage) Events(orderID uint64) ([]OrderEvent, error) {
	var rows []OrderEvent
	err := s.db.Where("order_id = ?", orderID).Order("id").Find(&rows).Error
	return rows, err
}

// Recent returns the latest n rows, newest first.
func (s *Storage) Recent(n int) ([]OrderEvent, error) {
	var rows []OrderEvent
	err := s.db.Order("id desc").Limit(n).Find(&rows).Error
	return rows, err
}

// Sink adapts the journal into the books' event callback. Persistence
// failures are logged, never propagated into the fill path.
func (s *Storage) Sink() domain.EventSink {
	return func(ev domain.Event) {
		if err := s.SaveEvent(ev); err != nil {
			slog.Error("failed to journal event",
				slog.String("event", ev.EventName()),
				slog.Uint64("order_id", ev.Order()),
				slog.Any("error", err))
		}
	}
}
