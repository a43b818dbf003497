package runtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
	"github.com/badaboda/mochevent/internal/runtime/registry"
	"github.com/badaboda/mochevent/internal/runtime/wire"
)

func encodeReply(t *testing.T, rm wire.ReplyMessage) []byte {
	t.Helper()
	frame, err := wire.EncodeReply(rm)
	require.NoError(t, err)
	return frame
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher(nil, nil, newTestLogger())
	assert.ErrorIs(t, err, errspkg.ErrRegistryRequired)

	_, err = NewDispatcher(registry.New(1), nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestDispatchResolvesPending(t *testing.T) {
	reg := registry.New(4)
	d, err := NewDispatcher(reg, nil, newTestLogger())
	require.NoError(t, err)

	id, err := reg.Allocate()
	require.NoError(t, err)
	p := registry.NewPendingRequest(id, time.Now(), time.Now().Add(time.Second))
	require.NoError(t, reg.Register(id, p))

	require.NoError(t, d.Dispatch(encodeReply(t, wire.ReplyMessage{
		CorrelationID: uint32(id),
		StatusCode:    201,
		Headers:       []wire.Header{{Key: "A", Value: "1"}},
		Body:          []byte("created"),
	})))

	out := <-p.Done()
	assert.Equal(t, registry.Resolved, out.State)
	assert.Equal(t, 201, out.Reply.StatusCode)
	assert.Equal(t, []byte("created"), out.Reply.Body)
}

func TestDispatchDropsUnknownID(t *testing.T) {
	logger := newTestLogger()
	metrics := NewBridgeMetrics(prometheus.NewRegistry(), nil)
	d, err := NewDispatcher(registry.New(4), metrics, logger)
	require.NoError(t, err)

	err = d.Dispatch(encodeReply(t, wire.ReplyMessage{CorrelationID: 3, StatusCode: 200}))
	require.NoError(t, err)
	assert.True(t, logger.Has("Ignoring unknown or stale correlation id"))
	assert.Equal(t, uint64(1), metrics.GetSnapshot().DroppedReplies)
}

func TestDispatchMalformed(t *testing.T) {
	logger := newTestLogger()
	metrics := NewBridgeMetrics(prometheus.NewRegistry(), nil)
	d, err := NewDispatcher(registry.New(4), metrics, logger)
	require.NoError(t, err)

	err = d.Dispatch([]byte{131, 97, 1})
	assert.ErrorIs(t, err, errspkg.ErrMalformedReply)
	assert.True(t, isMalformed(err))
	assert.Equal(t, uint64(1), metrics.GetSnapshot().MalformedReplies)
	assert.True(t, logger.Has("Failed to decode reply"))
}

func TestDispatchTracesReplyFields(t *testing.T) {
	reg := registry.New(2)
	logger := newTestLogger()
	d, err := NewDispatcher(reg, nil, logger.With(loggingpkg.LogFields{loggingpkg.FieldNode: "gw@test"}))
	require.NoError(t, err)

	id, err := reg.Allocate()
	require.NoError(t, err)
	require.NoError(t, reg.Register(id, registry.NewPendingRequest(id, time.Now(), time.Now().Add(time.Second))))

	require.NoError(t, d.Dispatch(encodeReply(t, wire.ReplyMessage{
		CorrelationID: uint32(id),
		StatusCode:    201,
		Body:          []byte("created"),
	})))

	var traced *loggedEntry
	for _, e := range logger.Entries() {
		if e.msg == "Reply dispatched" {
			traced = &e
		}
	}
	require.NotNil(t, traced)
	assert.Equal(t, "trace", traced.level)
	assert.Equal(t, "gw@test", traced.fields[loggingpkg.FieldNode])
	assert.Equal(t, uint32(id), traced.fields[loggingpkg.FieldCorrelationID])
	assert.Equal(t, 201, traced.fields[loggingpkg.FieldStatus])
	assert.Equal(t, loggingpkg.Size(len("created")), traced.fields[loggingpkg.FieldSize])
}
