// Package erldist provides a backend link that joins an Erlang cluster as a
// hidden node and talks to a registered process over the distribution
// protocol.
package erldist

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jpillora/backoff"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/internal/runtime/etf"
	"github.com/badaboda/mochevent/transport"
)

// TransportName is the name used to register this link.
const TransportName = "erldist"

const (
	passThrough      = 'p'
	maxFrameSize     = 128 << 20
	handshakeTimeout = 10 * time.Second

	ctrlSend         = 2
	ctrlRegSend      = 6
	ctrlSendTT       = 12
	ctrlRegSendTT    = 16
	ctrlSendSender   = 22
	ctrlSendSenderTT = 23
	ctrlAliasSend    = 33
	ctrlAliasSendTT  = 34
)

// ErrClosed is returned by a link after Close.
var ErrClosed = errors.New("erldist: link closed")

// EPMDPort is the port mapper port used for lookups. Tests point it at a fake.
var EPMDPort = DefaultEPMDPort

// Options configure Dial.
type Options struct {
	// NodeName is our node, name@host.
	NodeName string
	Cookie   string
	// BackendNode is the peer node, name@host.
	BackendNode string
	// BackendProcess is the registered name forward messages are sent to.
	BackendProcess string
	// BackendPort skips the EPMD lookup when non-zero.
	BackendPort     int
	TickInterval    time.Duration
	ConnectAttempts int
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ErldistCapabilities)
}

// Build connects to the backend node described by cfg.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Link, error) {
	return Dial(ctx, Options{
		NodeName:        cfg.GetNodeName(),
		Cookie:          cfg.GetCookie(),
		BackendNode:     cfg.GetBackendNode(),
		BackendProcess:  cfg.GetBackendProcess(),
		BackendPort:     cfg.GetBackendPort(),
		TickInterval:    cfg.GetTickInterval(),
		ConnectAttempts: cfg.GetConnectAttempts(),
	}, logger)
}

// Capabilities returns the capabilities of this link.
func Capabilities() transport.Capabilities {
	return transport.ErldistCapabilities
}

// Link is a connected hidden node.
type Link struct {
	conn     net.Conn
	r        *bufio.Reader
	identity transport.Identity
	self     etf.Pid
	process  etf.Atom
	peer     string
	logger   watermill.LoggerAdapter

	wmu       sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	done      sync.WaitGroup
}

// Dial connects and handshakes with the backend node, retrying with backoff
// up to ConnectAttempts times. Every failure wraps ErrHandshakeFailure.
func Dial(ctx context.Context, opts Options, logger watermill.LoggerAdapter) (*Link, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if _, _, err := splitNode(opts.NodeName); err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrHandshakeFailure, err)
	}
	alive, host, err := splitNode(opts.BackendNode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrHandshakeFailure, err)
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}

	identity := transport.NewIdentity(opts.NodeName)
	logger = logger.With(watermill.LogFields{"link": TransportName, "peer": opts.BackendNode})

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= opts.ConnectAttempts; attempt++ {
		conn, res, err := connect(ctx, opts, alive, host, identity.Creation)
		if err == nil {
			l := newLink(conn, opts, identity, res.peerName, logger)
			logger.Info("Connected to backend node", watermill.LogFields{
				"node":       opts.NodeName,
				"peer_flags": fmt.Sprintf("%#x", res.peerFlags),
				"attempt":    attempt,
			})
			return l, nil
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
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", errspkg.ErrHandshakeFailure, opts.BackendNode, opts.ConnectAttempts, lastErr)
}

func connect(ctx context.Context, opts Options, alive, host string, creation uint32) (net.Conn, handshakeResult, error) {
	dialer := &net.Dialer{}
	port := opts.BackendPort
	if port == 0 {
		var err error
		if port, err = lookupPort(ctx, dialer, host, EPMDPort, alive); err != nil {
			return nil, handshakeResult{}, err
		}
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, handshakeResult{}, err
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	res, err := handshake(conn, opts.NodeName, opts.Cookie, creation)
	if err != nil {
		conn.Close()
		return nil, handshakeResult{}, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, res, nil
}

func newLink(conn net.Conn, opts Options, identity transport.Identity, peer string, logger watermill.LoggerAdapter) *Link {
	l := &Link{
		conn:     conn,
		r:        bufio.NewReader(conn),
		identity: identity,
		self: etf.Pid{
			Node:     etf.Atom(identity.Node),
			ID:       identity.ID,
			Serial:   identity.Serial,
			Creation: identity.Creation,
		},
		process: etf.Atom(opts.BackendProcess),
		peer:    peer,
		logger:  logger,
		closed:  make(chan struct{}),
	}
	if opts.TickInterval > 0 {
		l.done.Add(1)
		go l.tick(opts.TickInterval)
	}
	return l
}

// Identity returns our pid.
func (l *Link) Identity() transport.Identity { return l.identity }

// Send delivers frame, an encoded term, to the registered backend process.
func (l *Link) Send(ctx context.Context, frame []byte) error {
	control, err := etf.Encode(etf.Tuple{int64(ctrlRegSend), l.self, etf.Atom(""), l.process})
	if err != nil {
		return err
	}

	size := 1 + len(control) + len(frame)
	buf := make([]byte, 0, 4+size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(size))
	buf = append(buf, passThrough)
	buf = append(buf, control...)
	buf = append(buf, frame...)

	return l.write(ctx, buf)
}

// Recv returns the payload of the next message addressed to us, or nil for a
// tick. Control messages that carry no payload are consumed silently.
func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	_ = l.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		frame, err := l.readFrame()
		if err != nil {
			select {
			case <-l.closed:
				return nil, ErrClosed
			default:
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(frame) == 0 {
			return nil, nil
		}
		if frame[0] != passThrough {
			l.logger.Debug("Ignoring frame with unknown type", watermill.LogFields{"type": frame[0]})
			continue
		}

		payload, ok, err := messagePayload(frame[1:])
		if err != nil {
			l.logger.Error("Ignoring undecodable control message", err, nil)
			continue
		}
		if !ok {
			continue
		}
		return payload, nil
	}
}

// Close stops the ticker and closes the connection.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.conn.Close()
		l.done.Wait()
	})
	return err
}

func (l *Link) readFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(l.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, nil
	}
	if n > maxFrameSize {
		return nil, fmt.Errorf("erldist: frame of %d bytes exceeds limit", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(l.r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (l *Link) write(ctx context.Context, buf []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = l.conn.SetWriteDeadline(deadline)
	if _, err := l.conn.Write(buf); err != nil {
		return fmt.Errorf("erldist: write to %s: %w", l.peer, err)
	}
	return nil
}

func (l *Link) tick(interval time.Duration) {
	defer l.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := make([]byte, 4)
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := l.write(ctx, tick)
			cancel()
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					l.logger.Error("Failed to send tick", err, nil)
				}
				return
			}
		}
	}
}

// messagePayload splits a pass-through frame into control and message and
// returns the message bytes when the control message delivers one.
func messagePayload(b []byte) ([]byte, bool, error) {
	control, rest, err := etf.DecodePrefix(b)
	if err != nil {
		return nil, false, err
	}
	tuple, ok := control.(etf.Tuple)
	if !ok || len(tuple) == 0 {
		return nil, false, fmt.Errorf("erldist: control message is %T", control)
	}
	op, ok := etf.Int(tuple[0])
	if !ok {
		return nil, false, fmt.Errorf("erldist: control operation is %T", tuple[0])
	}

	switch op {
	case ctrlSend, ctrlRegSend, ctrlSendTT, ctrlRegSendTT,
		ctrlSendSender, ctrlSendSenderTT, ctrlAliasSend, ctrlAliasSendTT:
		if len(rest) == 0 {
			return nil, false, fmt.Errorf("erldist: send operation %d without message", op)
		}
		payload := make([]byte, len(rest))
		copy(payload, rest)
		return payload, true, nil
	}
	return nil, false, nil
}

func splitNode(node string) (alive, host string, err error) {
	alive, host, ok := strings.Cut(node, "@")
	if !ok || alive == "" || host == "" {
		return "", "", fmt.Errorf("node name %q must be name@host", node)
	}
	return alive, host, nil
}
