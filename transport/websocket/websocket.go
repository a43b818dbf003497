// Package websocket provides a backend link over a websocket connection.
// Each binary message carries one encoded term.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/transport"
)

// TransportName is the name used to register this link.
const TransportName = "websocket"

// Subprotocol is offered during the upgrade.
const Subprotocol = "mochevent.etf"

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	recvBuffer       = 64
)

// ErrClosed is returned by a link after Close.
var ErrClosed = errors.New("websocket: link closed")

// Options configure Dial.
type Options struct {
	URL             string
	NodeName        string
	Secret          string
	PingInterval    time.Duration
	ConnectAttempts int
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WebSocketCapabilities)
}

// Build dials the websocket endpoint described by cfg.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Link, error) {
	return Dial(ctx, Options{
		URL:             cfg.GetWebSocketURL(),
		NodeName:        cfg.GetNodeName(),
		Secret:          cfg.GetCookie(),
		PingInterval:    cfg.GetTickInterval(),
		ConnectAttempts: cfg.GetConnectAttempts(),
	}, logger)
}

// Capabilities returns the capabilities of this link.
func Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}

type inbound struct {
	frame []byte
	err   error
}

// Link is a websocket connection to the backend.
type Link struct {
	conn     *websocket.Conn
	identity transport.Identity
	logger   watermill.LoggerAdapter

	wmu       sync.Mutex
	in        chan inbound
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to opts.URL, retrying with backoff. A refused upgrade or any
// other dial failure wraps ErrHandshakeFailure.
func Dial(ctx context.Context, opts Options, logger watermill.LoggerAdapter) (*Link, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: websocket url is required", errspkg.ErrHandshakeFailure)
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}
	logger = logger.With(watermill.LogFields{"link": TransportName, "url": opts.URL})

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	header := http.Header{}
	if opts.Secret != "" {
		header.Set("Authorization", "Bearer "+opts.Secret)
	}
	if opts.NodeName != "" {
		header.Set("X-Mochevent-Node", opts.NodeName)
	}

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= opts.ConnectAttempts; attempt++ {
		conn, resp, err := dialer.DialContext(ctx, opts.URL, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			logger.Info("Connected to backend", watermill.LogFields{"attempt": attempt})
			return newLink(conn, transport.NewIdentity(opts.NodeName), opts.PingInterval, logger), nil
		}
		if resp != nil {
			err = fmt.Errorf("upgrade refused with status %d: %w", resp.StatusCode, err)
		}
		lastErr = err
		logger.Error("Backend connection attempt failed", err, watermill.LogFields{"attempt": attempt})

		if attempt == opts.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", errspkg.ErrHandshakeFailure, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", errspkg.ErrHandshakeFailure, opts.URL, opts.ConnectAttempts, lastErr)
}

func newLink(conn *websocket.Conn, identity transport.Identity, pingInterval time.Duration, logger watermill.LoggerAdapter) *Link {
	l := &Link{
		conn:     conn,
		identity: identity,
		logger:   logger,
		in:       make(chan inbound, recvBuffer),
		closed:   make(chan struct{}),
	}
	// Pongs surface as ticks.
	conn.SetPongHandler(func(string) error {
		select {
		case l.in <- inbound{}:
		default:
		}
		return nil
	})

	l.wg.Add(1)
	go l.read()
	if pingInterval > 0 {
		l.wg.Add(1)
		go l.ping(pingInterval)
	}
	return l
}

// Identity returns the identity presented to the backend.
func (l *Link) Identity() transport.Identity { return l.identity }

// Send writes frame as one binary message.
func (l *Link) Send(ctx context.Context, frame []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	_ = l.conn.SetWriteDeadline(deadline)
	if err := l.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}
	return nil
}

// Recv returns the next binary message, or an empty frame for a pong or an
// empty message.
func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrClosed
	case in, ok := <-l.in:
		if !ok {
			return nil, ErrClosed
		}
		return in.frame, in.err
	}
}

// Close sends a close message and tears the connection down.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = l.conn.Close()
		l.wg.Wait()
	})
	return err
}

func (l *Link) read() {
	defer l.wg.Done()
	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = fmt.Errorf("websocket: backend closed the connection: %w", err)
			}
			l.deliver(inbound{err: err})
			return
		}
		if mt != websocket.BinaryMessage {
			l.logger.Debug("Ignoring non-binary message", watermill.LogFields{"type": mt})
			continue
		}
		if !l.deliver(inbound{frame: data}) {
			return
		}
	}
}

func (l *Link) deliver(in inbound) bool {
	select {
	case l.in <- in:
		return true
	case <-l.closed:
		return false
	}
}

func (l *Link) ping(interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				l.logger.Error("Failed to send ping", err, nil)
				return
			}
		}
	}
}
