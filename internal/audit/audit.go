// Package audit emits one append-only event record per state transition in
// the engine. Recording is best effort: a sink failure is logged and never
// rolls back the business transition that produced the event.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	KindCheckout        = "order.checkout"
	KindCheckoutFailed  = "order.checkout_failed"
	KindPaymentCallback = "payment.callback"
	KindAdminCancel     = "order.admin_cancel"
	KindStockCommitted  = "inventory.committed"
	KindStockReleased   = "inventory.released"
)

type Event struct {
	Kind    string     `json:"kind"`
	UserID  *uuid.UUID `json:"user_id,omitempty"`
	IP      string     `json:"ip,omitempty"`
	Message string     `json:"message"`
}

type Recorder interface {
	Record(ctx context.Context, event Event)
}

type recorder struct {
	log   *zap.Logger
	db    *sql.DB
	kafka *Publisher
}

// New builds a recorder that always logs through zap. db and publisher are
// optional; when present every event is also appended to the audit table and
// published to the brokers.
func New(log *zap.Logger, db *sql.DB, publisher *Publisher) Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &recorder{log: log, db: db, kafka: publisher}
}

func (r *recorder) Record(ctx context.Context, event Event) {
	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.String("message", event.Message),
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.String()))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	r.log.Info("audit_event", fields...)

	if r.db != nil {
		insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, err := r.db.ExecContext(insertCtx,
			"INSERT INTO audit_events (kind, user_id, ip, message) VALUES ($1, $2, $3, $4)",
			event.Kind, event.UserID, nullable(event.IP), event.Message,
		)
		if err != nil {
			r.log.Warn("audit_insert_failed", zap.String("kind", event.Kind), zap.Error(err))
		}
	}

	if r.kafka.Enabled() {
		if err := r.kafka.Publish(ctx, event); err != nil {
			r.log.Warn("audit_publish_failed", zap.String("kind", event.Kind), zap.Error(err))
		}
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
