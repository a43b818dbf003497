// Package wire converts between gateway messages and the terms the backend
// handler exchanges: the forward 6-tuple and the reply 4-tuple.
package wire

import (
	"fmt"
	"math"
	"net/http"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/internal/runtime/etf"
)

// Request kinds. GET, POST and HEAD keep the codes the backend handler has
// always matched on; the others extend that numbering.
const (
	KindGet     = 0
	KindPost    = 1
	KindHead    = 2
	KindPut     = 3
	KindDelete  = 4
	KindOptions = 5
	KindTrace   = 6
	KindConnect = 7
	KindPatch   = 8
	KindOther   = -1
)

var requestKinds = map[string]int{
	http.MethodGet:     KindGet,
	http.MethodPost:    KindPost,
	http.MethodHead:    KindHead,
	http.MethodPut:     KindPut,
	http.MethodDelete:  KindDelete,
	http.MethodOptions: KindOptions,
	http.MethodTrace:   KindTrace,
	http.MethodConnect: KindConnect,
	http.MethodPatch:   KindPatch,
}

// RequestKind maps an HTTP method to its request kind code.
func RequestKind(method string) int {
	if k, ok := requestKinds[method]; ok {
		return k
	}
	return KindOther
}

// Header is one header line, kept in the order it was received or produced.
type Header struct {
	Key   string
	Value string
}

// ForwardMessage is what the gateway sends for every accepted request.
type ForwardMessage struct {
	Sender        etf.Pid
	CorrelationID uint32
	RequestKind   int
	URI           string
	Headers       []Header
	Body          []byte
}

// Reply statuses must be final; net/http writes a 1xx as an informational
// response and then sends 200.
const (
	MinReplyStatus = 200
	MaxReplyStatus = 999
)

// ReplyMessage is what the backend sends back.
type ReplyMessage struct {
	CorrelationID uint32
	StatusCode    int
	Headers       []Header
	Body          []byte
}

// EncodeForward encodes {Sender, CorrelationID, RequestKind, URI, Headers, Body}.
// Text fields are sent as Erlang strings. More than maxHeaders headers fail
// with ErrHeaderOverflow; maxHeaders <= 0 disables the check.
func EncodeForward(fm ForwardMessage, maxHeaders int) ([]byte, error) {
	if maxHeaders > 0 && len(fm.Headers) > maxHeaders {
		return nil, fmt.Errorf("%w: %d headers, limit %d", errspkg.ErrHeaderOverflow, len(fm.Headers), maxHeaders)
	}

	headers := make(etf.List, len(fm.Headers))
	for i, h := range fm.Headers {
		headers[i] = etf.Tuple{etf.CharList(h.Key), etf.CharList(h.Value)}
	}

	return etf.Encode(etf.Tuple{
		fm.Sender,
		int64(fm.CorrelationID),
		int64(fm.RequestKind),
		etf.CharList(fm.URI),
		headers,
		etf.CharList(fm.Body),
	})
}

// DecodeReply parses a reply frame. Headers and body may arrive as binaries,
// char lists or the empty list. Every failure wraps ErrMalformedReply.
func DecodeReply(frame []byte) (ReplyMessage, error) {
	term, err := etf.Decode(frame)
	if err != nil {
		return ReplyMessage{}, malformed("%v", err)
	}
	return ReplyFromTerm(term)
}

// ReplyFromTerm is DecodeReply for a term that has already been decoded.
func ReplyFromTerm(term etf.Term) (ReplyMessage, error) {
	tuple, ok := term.(etf.Tuple)
	if !ok || len(tuple) != 4 {
		return ReplyMessage{}, malformed("expected a 4-tuple, got %T", term)
	}

	id, ok := etf.Int(tuple[0])
	if !ok || id < 0 || id > math.MaxUint32 {
		return ReplyMessage{}, malformed("correlation id %v", tuple[0])
	}
	status, ok := etf.Int(tuple[1])
	if !ok || status < MinReplyStatus || status > MaxReplyStatus {
		return ReplyMessage{}, malformed("status %v", tuple[1])
	}

	list, ok := tuple[2].(etf.List)
	if !ok {
		return ReplyMessage{}, malformed("headers are %T, not a list", tuple[2])
	}
	headers := make([]Header, 0, len(list))
	for i, e := range list {
		pair, ok := e.(etf.Tuple)
		if !ok || len(pair) != 2 {
			return ReplyMessage{}, malformed("header %d is not a pair", i)
		}
		k, kok := etf.Bytes(pair[0])
		v, vok := etf.Bytes(pair[1])
		if !kok || !vok {
			return ReplyMessage{}, malformed("header %d is not a byte string pair", i)
		}
		headers = append(headers, Header{Key: string(k), Value: string(v)})
	}

	body, ok := etf.Bytes(tuple[3])
	if !ok {
		return ReplyMessage{}, malformed("body is %T", tuple[3])
	}

	return ReplyMessage{
		CorrelationID: uint32(id),
		StatusCode:    int(status),
		Headers:       headers,
		Body:          body,
	}, nil
}

// EncodeReply encodes a reply the way a backend handler would, with binaries.
// The gateway never sends replies; backends written in Go and tests do.
func EncodeReply(rm ReplyMessage) ([]byte, error) {
	headers := make(etf.List, len(rm.Headers))
	for i, h := range rm.Headers {
		headers[i] = etf.Tuple{etf.Binary(h.Key), etf.Binary(h.Value)}
	}
	return etf.Encode(etf.Tuple{
		int64(rm.CorrelationID),
		int64(rm.StatusCode),
		headers,
		etf.Binary(rm.Body),
	})
}

// DecodeForward parses a forward frame, for backends written in Go.
func DecodeForward(frame []byte) (ForwardMessage, error) {
	term, err := etf.Decode(frame)
	if err != nil {
		return ForwardMessage{}, err
	}
	tuple, ok := term.(etf.Tuple)
	if !ok || len(tuple) != 6 {
		return ForwardMessage{}, fmt.Errorf("wire: forward message is not a 6-tuple")
	}
	sender, ok := tuple[0].(etf.Pid)
	if !ok {
		return ForwardMessage{}, fmt.Errorf("wire: sender is %T", tuple[0])
	}
	id, idOK := etf.Int(tuple[1])
	kind, kindOK := etf.Int(tuple[2])
	if !idOK || !kindOK || id < 0 || id > math.MaxUint32 {
		return ForwardMessage{}, fmt.Errorf("wire: bad correlation id or request kind")
	}
	uri, uriOK := etf.Bytes(tuple[3])
	list, listOK := tuple[4].(etf.List)
	body, bodyOK := etf.Bytes(tuple[5])
	if !uriOK || !listOK || !bodyOK {
		return ForwardMessage{}, fmt.Errorf("wire: bad uri, headers or body")
	}

	fm := ForwardMessage{
		Sender:        sender,
		CorrelationID: uint32(id),
		RequestKind:   int(kind),
		URI:           string(uri),
		Body:          body,
	}
	for _, e := range list {
		pair, ok := e.(etf.Tuple)
		if !ok || len(pair) != 2 {
			return ForwardMessage{}, fmt.Errorf("wire: header is not a pair")
		}
		k, kok := etf.Bytes(pair[0])
		v, vok := etf.Bytes(pair[1])
		if !kok || !vok {
			return ForwardMessage{}, fmt.Errorf("wire: header is not a string pair")
		}
		fm.Headers = append(fm.Headers, Header{Key: string(k), Value: string(v)})
	}
	return fm, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errspkg.ErrMalformedReply}, args...)...)
}
