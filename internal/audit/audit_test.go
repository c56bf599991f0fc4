package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorderLogsEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	recorder := New(zap.New(core), nil, nil)

	userID := uuid.New()
	recorder.Record(context.Background(), Event{
		Kind:    KindCheckout,
		UserID:  &userID,
		IP:      "203.0.113.9",
		Message: "order created",
	})

	entries := logs.FilterMessage("audit_event").All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, KindCheckout, fields["kind"])
	assert.Equal(t, userID.String(), fields["user_id"])
	assert.Equal(t, "203.0.113.9", fields["ip"])
}

func TestPublisherDisabledWithoutBrokers(t *testing.T) {
	p := NewPublisher("", "market.audit")
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Publish(context.Background(), Event{Kind: KindCheckout}))
	assert.NoError(t, p.Close())

	p = NewPublisher(" , ", "market.audit")
	assert.False(t, p.Enabled())
}

func TestPublisherEnabledWithBrokers(t *testing.T) {
	p := NewPublisher("localhost:9092, localhost:9093", "market.audit")
	assert.True(t, p.Enabled())
	assert.NoError(t, p.Close())
}
