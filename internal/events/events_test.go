package events

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockWriter is a mock implementation of messageWriter
type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func sampleEvent() ChangeEvent {
	return ChangeEvent{
		Entity:  "inventory.Warehouse",
		ID:      "01HZX",
		Action:  ActionCreate,
		Version: 1,
		Actor:   "ana",
		At:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Data:    map[string]any{"code": "BOD001"},
	}
}

func TestKafkaPublish(t *testing.T) {
	w := new(mockWriter)
	var sent []kafka.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
		Return(nil).Once()
	w.On("Close").Return(nil).Once()
	k := &Kafka{w: w, log: zap.NewNop()}

	require.NoError(t, k.Publish(context.Background(), sampleEvent()))
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "inventory.Warehouse/01HZX", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "action", Value: []byte("create")},
		{Key: "entity", Value: []byte("inventory.Warehouse")},
	}, msg.Headers)

	var got ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "BOD001", got.Data["code"])
	assert.Equal(t, int64(1), got.Version)

	require.NoError(t, k.Close())
	w.AssertExpectations(t)
}

func TestKafkaPublishError(t *testing.T) {
	w := new(mockWriter)
	down := errors.New("broker down")
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(down)
	k := &Kafka{w: w, log: zap.NewNop()}

	err := k.Publish(context.Background(), sampleEvent())
	require.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "inventory.Warehouse/01HZX")
}

func TestKafkaCompletion(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var failed []string
	k := NewKafka([]string{"localhost:9092"}, "inventory.changes", zap.New(core), func(entity string) {
		failed = append(failed, entity)
	})
	defer func() { _ = k.Close() }()

	w, ok := k.w.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, w.Async)
	require.NotNil(t, w.Completion)

	msgs := []kafka.Message{
		{Key: []byte("inventory.Line/1"), Headers: []kafka.Header{{Key: "entity", Value: []byte("inventory.Line")}}},
		{Key: []byte("inventory.Tag/2"), Headers: []kafka.Header{{Key: "entity", Value: []byte("inventory.Tag")}}},
	}
	w.Completion(msgs, nil)
	assert.Empty(t, failed)
	assert.Zero(t, logs.Len())

	w.Completion(msgs, errors.New("leader not available"))
	assert.Equal(t, []string{"inventory.Line", "inventory.Tag"}, failed)
	assert.Equal(t, 2, logs.FilterMessage("deliver change event").Len())
}

func TestLogPublish(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLog(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	entries := logs.FilterMessage("record changed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "inventory.Warehouse", fields["entity"])
	assert.Equal(t, "create", fields["action"])
}
