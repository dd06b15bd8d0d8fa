package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotify_KeysByTenant(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "notifications", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := k.Notify(context.Background(), domain.Notification{
		TenantID: "tenant-1",
		Title:    "Banking application approved",
		Body:     "ok",
		Category: "banking",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "tenant-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "banking", string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "Banking application approved", decoded["title"])
	assert.Contains(t, decoded, "sent_at")
}

func TestKafkaNotify_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	k := &Kafka{writer: w, topic: "notifications", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := k.Notify(context.Background(), domain.Notification{TenantID: "tenant-1"})
	assert.ErrorContains(t, err, "broker down")
}
