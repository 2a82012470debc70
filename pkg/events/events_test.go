package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	entries []string
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.entries = append(c.entries, string(p))
	return len(p), nil
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() Event {
	return Event{
		Type:       DeviceSignedIn,
		DeviceID:   "dev-1",
		OccurredAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Attributes: map[string]string{"streak": "3"},
	}
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	p := &KafkaPublisher{writer: writer, topic: "areuok.events"}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	require.Equal(t, "dev-1", string(msg.Key))
	require.Equal(t, "device.signed_in", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, "3", decoded.Attributes["streak"])

	require.NoError(t, p.Close())
	require.True(t, writer.closed)
}

func TestKafkaPublisherPropagatesWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, topic: "t"}
	require.Error(t, p.Publish(context.Background(), sampleEvent()))
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t")
	require.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	require.Error(t, err)
}

func TestNewKafkaPublisherFlushesEachEvent(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "areuok.events")
	require.NoError(t, err)
	defer p.Close()

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	require.Equal(t, 1, w.BatchSize)
	require.LessOrEqual(t, w.BatchTimeout, 10*time.Millisecond)
	require.Equal(t, "areuok.events", w.Topic)
}

func TestLoggingPublisherEmitsEntry(t *testing.T) {
	writer := &captureWriter{}
	p := NewLoggingPublisher(zerolog.New(writer))
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, writer.entries, 1)
	require.True(t, strings.Contains(writer.entries[0], `"event_type":"device.signed_in"`))
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Publish(context.Background(), sampleEvent()))
	require.NoError(t, r.Publish(context.Background(), Event{Type: DeviceRenamed}))
	require.Equal(t, []Type{DeviceSignedIn, DeviceRenamed}, r.Types())
	require.Len(t, r.Events(), 2)
}
