package mq

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/useraccounts/apiserver/config"
)

type recordingBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
	closed  bool
}

func (b *recordingBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.channel, b.data, b.attrs = channel, data, attrs
	return "msg-1", nil
}

func (b *recordingBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return handler(ctx, Message{ID: "msg-1", Data: b.data})
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}

func TestMQ_PublishJSON(t *testing.T) {
	backend := &recordingBackend{}
	queue := New(backend)

	id, err := queue.PublishJSON(context.Background(), "user-verification", map[string]string{"email": "j@example.com"}, map[string]string{AttrKind: "user.verification"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "user-verification", backend.channel)
	assert.Equal(t, map[string]string{AttrKind: "user.verification", AttrContentType: "application/json"}, backend.attrs)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(backend.data, &decoded))
	assert.Equal(t, "j@example.com", decoded["email"])

	require.NoError(t, queue.Close())
	assert.True(t, backend.closed)
}

func TestMQ_PublishJSON_EncodeError(t *testing.T) {
	queue := New(&recordingBackend{})

	_, err := queue.PublishJSON(context.Background(), "c", make(chan int), nil)
	assert.Error(t, err)
}

func TestMQ_RejectsBlankChannel(t *testing.T) {
	backend := &recordingBackend{}
	queue := New(backend)

	_, err := queue.PublishJSON(context.Background(), "  ", "x", nil)
	assert.ErrorIs(t, err, ErrNoChannel)

	err = queue.Subscribe(context.Background(), "", func(context.Context, Message) error { return nil })
	assert.ErrorIs(t, err, ErrNoChannel)
	assert.Empty(t, backend.channel)
}

func TestMQ_SubscribePassesMessages(t *testing.T) {
	backend := &recordingBackend{data: []byte(`{"ok":true}`)}
	queue := New(backend)

	var got Message
	err := queue.Subscribe(context.Background(), "user-verification", func(ctx context.Context, msg Message) error {
		got = msg
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", got.ID)
	assert.JSONEq(t, `{"ok":true}`, string(got.Data))
}

func TestOpen_Disabled(t *testing.T) {
	_, err := Open(context.Background(), config.Config{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{MQ: config.MQConfig{Backend: "kafka"}})
	assert.Error(t, err)
}

func TestHeadersToAttributes(t *testing.T) {
	attrs := headersToAttributes(amqp.Table{
		"kind":  "verification",
		"raw":   []byte("bytes"),
		"count": int32(3),
	})

	assert.Equal(t, map[string]string{"kind": "verification", "raw": "bytes", "count": "3"}, attrs)
	assert.Nil(t, headersToAttributes(nil))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType(map[string]string{AttrContentType: "application/json"}))
	assert.Equal(t, "application/octet-stream", contentType(nil))
}

func TestFromDelivery(t *testing.T) {
	msg := fromDelivery(amqp.Delivery{
		MessageId: "m-1",
		Body:      []byte("payload"),
		Headers:   amqp.Table{AttrKind: "user.verification"},
	})

	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, []byte("payload"), msg.Data)
	assert.Equal(t, "user.verification", msg.Attributes[AttrKind])
}

func TestRandomID(t *testing.T) {
	a, b := randomID(), randomID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
