package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/badaboda/mochevent/internal/runtime/config"
	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
	"github.com/badaboda/mochevent/internal/runtime/wire"
	"github.com/badaboda/mochevent/transport"
)

type loggedEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type testLogger struct {
	mu      *sync.Mutex
	entries *[]loggedEntry
	fields  loggingpkg.LogFields
}

func newTestLogger() *testLogger {
	return &testLogger{mu: &sync.Mutex{}, entries: &[]loggedEntry{}}
}

func (l *testLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	return &testLogger{mu: l.mu, entries: l.entries, fields: l.merge(fields)}
}

func (l *testLogger) Debug(msg string, fields loggingpkg.LogFields) { l.add("debug", msg, nil, fields) }
func (l *testLogger) Info(msg string, fields loggingpkg.LogFields)  { l.add("info", msg, nil, fields) }
func (l *testLogger) Trace(msg string, fields loggingpkg.LogFields) { l.add("trace", msg, nil, fields) }
func (l *testLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.add("error", msg, err, fields)
}

func (l *testLogger) merge(fields loggingpkg.LogFields) loggingpkg.LogFields {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

func (l *testLogger) add(level, msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, loggedEntry{level: level, msg: msg, err: err, fields: l.merge(fields)})
}

func (l *testLogger) Entries() []loggedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]loggedEntry(nil), *l.entries...)
}

func (l *testLogger) Has(msg string) bool {
	for _, e := range l.Entries() {
		if e.msg == msg {
			return true
		}
	}
	return false
}

// memLink is an in-memory link. Frames sent by the gateway appear on sent;
// frames pushed to inbox are returned by Recv.
type memLink struct {
	id      transport.Identity
	sent    chan []byte
	inbox   chan []byte
	sendErr error

	closeOnce sync.Once
	closed    chan struct{}
	lost      chan error
}

var errLinkClosed = errors.New("memlink closed")

func newMemLink() *memLink {
	return &memLink{
		id:     transport.Identity{Node: "gw@test", ID: 1, Creation: 9},
		sent:   make(chan []byte, 64),
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
		lost:   make(chan error, 1),
	}
}

func (l *memLink) Identity() transport.Identity { return l.id }

func (l *memLink) Send(ctx context.Context, frame []byte) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	select {
	case l.sent <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *memLink) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-l.inbox:
		return frame, nil
	case err := <-l.lost:
		return nil, err
	case <-l.closed:
		return nil, errLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// drop makes the next Recv fail as if the connection broke.
func (l *memLink) drop(err error) { l.lost <- err }

// echo answers every forward message with status 200, an X-Method header
// carrying the request kind and the request body, after delay.
func (l *memLink) echo(t *testing.T, delay time.Duration) {
	t.Helper()
	go func() {
		for {
			select {
			case <-l.closed:
				return
			case frame := <-l.sent:
				fm, err := wire.DecodeForward(frame)
				if err != nil {
					t.Errorf("decode forward: %v", err)
					return
				}
				go func() {
					time.Sleep(delay)
					reply, err := wire.EncodeReply(wire.ReplyMessage{
						CorrelationID: fm.CorrelationID,
						StatusCode:    200,
						Headers:       []wire.Header{{Key: "X-Uri", Value: fm.URI}},
						Body:          fm.Body,
					})
					if err != nil {
						t.Errorf("encode reply: %v", err)
						return
					}
					l.inbox <- reply
				}()
			}
		}
	}()
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		Backend:        "memory",
		Capacity:       16,
		RequestTimeout: time.Second,
		MaxHeaders:     10,
		MaxBodyBytes:   1 << 10,
	}
}

func newTestGateway(t *testing.T, cfg *configpkg.Config, link *memLink, hooks RequestHooks) *Gateway {
	t.Helper()
	reg := prometheus.NewRegistry()
	g, err := NewGateway(context.Background(), cfg, newTestLogger(), GatewayDependencies{
		Link:       link,
		Hooks:      hooks,
		Registerer: reg,
		Gatherer:   reg,
	})
	require.NoError(t, err)
	return g
}
