package wire

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/internal/runtime/etf"
)

var testSender = etf.Pid{Node: "mochevent@localhost", ID: 1, Creation: 9}

func TestRequestKind(t *testing.T) {
	tests := map[string]int{
		"GET":     KindGet,
		"POST":    KindPost,
		"HEAD":    KindHead,
		"PUT":     KindPut,
		"DELETE":  KindDelete,
		"OPTIONS": KindOptions,
		"TRACE":   KindTrace,
		"CONNECT": KindConnect,
		"PATCH":   KindPatch,
		"BREW":    KindOther,
		"get":     KindOther,
	}
	for method, want := range tests {
		assert.Equal(t, want, RequestKind(method), method)
	}
}

func TestEncodeForwardShape(t *testing.T) {
	frame, err := EncodeForward(ForwardMessage{
		Sender:        testSender,
		CorrelationID: 42,
		RequestKind:   KindGet,
		URI:           "/hello?x=1",
		Headers:       []Header{{Key: "Host", Value: "h"}},
		Body:          nil,
	}, 10)
	require.NoError(t, err)

	term, err := etf.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, etf.Tuple{
		testSender,
		int64(42),
		int64(0),
		etf.CharList("/hello?x=1"),
		etf.List{etf.Tuple{etf.CharList("Host"), etf.CharList("h")}},
		etf.List{},
	}, term)
}

func TestEncodeForwardKeepsEveryHeaderInOrder(t *testing.T) {
	var headers []Header
	for i := 0; i < 60; i++ {
		headers = append(headers, Header{Key: "X-H" + strconv.Itoa(i), Value: strconv.Itoa(i)})
	}

	frame, err := EncodeForward(ForwardMessage{Sender: testSender, CorrelationID: 1, Headers: headers}, 100)
	require.NoError(t, err)

	fm, err := DecodeForward(frame)
	require.NoError(t, err)
	assert.Equal(t, headers, fm.Headers)
}

func TestEncodeForwardHeaderOverflow(t *testing.T) {
	headers := make([]Header, 4)
	_, err := EncodeForward(ForwardMessage{Headers: headers}, 3)
	assert.ErrorIs(t, err, errspkg.ErrHeaderOverflow)

	_, err = EncodeForward(ForwardMessage{Headers: headers}, 0)
	assert.NoError(t, err)
}

func TestForwardRoundTrip(t *testing.T) {
	in := ForwardMessage{
		Sender:        testSender,
		CorrelationID: 65536,
		RequestKind:   KindPost,
		URI:           "/submit",
		Headers:       []Header{{Key: "Host", Value: "example"}, {Key: "Content-Type", Value: "text/plain"}},
		Body:          []byte("payload"),
	}
	frame, err := EncodeForward(in, 100)
	require.NoError(t, err)

	out, err := DecodeForward(frame)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeReplyAcceptsByteStringShapes(t *testing.T) {
	term := etf.Tuple{
		int64(42),
		int64(200),
		etf.List{
			etf.Tuple{etf.Binary("Content-Type"), etf.Binary("text/plain")},
			etf.Tuple{etf.CharList("X-A"), etf.List{}},
		},
		etf.CharList("hi"),
	}
	frame, err := etf.Encode(term)
	require.NoError(t, err)

	rm, err := DecodeReply(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), rm.CorrelationID)
	assert.Equal(t, 200, rm.StatusCode)
	assert.Equal(t, []Header{{Key: "Content-Type", Value: "text/plain"}, {Key: "X-A", Value: ""}}, rm.Headers)
	assert.Equal(t, []byte("hi"), rm.Body)
}

func TestEncodeReplyRoundTrip(t *testing.T) {
	in := ReplyMessage{
		CorrelationID: 7,
		StatusCode:    404,
		Headers:       []Header{{Key: "A", Value: "1"}},
		Body:          []byte("nope"),
	}
	frame, err := EncodeReply(in)
	require.NoError(t, err)

	out, err := DecodeReply(frame)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRoundTripNonASCIIHeadersEmptyBody(t *testing.T) {
	headers := []Header{
		{Key: "X-\xff\x00", Value: "caf\u00e9\xfe"},
		{Key: "Accept", Value: ""},
	}

	reply := ReplyMessage{CorrelationID: 9, StatusCode: 200, Headers: headers, Body: []byte{}}
	frame, err := EncodeReply(reply)
	require.NoError(t, err)
	gotReply, err := DecodeReply(frame)
	require.NoError(t, err)
	assert.Equal(t, reply.CorrelationID, gotReply.CorrelationID)
	assert.Equal(t, reply.StatusCode, gotReply.StatusCode)
	assert.Equal(t, headers, gotReply.Headers)
	assert.Empty(t, gotReply.Body)

	forward := ForwardMessage{
		Sender:        testSender,
		CorrelationID: 9,
		RequestKind:   KindGet,
		URI:           "/caf\u00e9",
		Headers:       headers,
	}
	frame, err = EncodeForward(forward, 100)
	require.NoError(t, err)
	gotForward, err := DecodeForward(frame)
	require.NoError(t, err)
	assert.Equal(t, forward.Sender, gotForward.Sender)
	assert.Equal(t, forward.URI, gotForward.URI)
	assert.Equal(t, headers, gotForward.Headers)
	assert.Empty(t, gotForward.Body)
}

func TestDecodeReplyMalformed(t *testing.T) {
	tests := []struct {
		name string
		term etf.Term
	}{
		{"not a tuple", etf.Atom("ok")},
		{"wrong arity", etf.Tuple{int64(1), int64(200), etf.List{}}},
		{"id not integer", etf.Tuple{etf.Atom("x"), int64(200), etf.List{}, etf.Binary("")}},
		{"negative id", etf.Tuple{int64(-1), int64(200), etf.List{}, etf.Binary("")}},
		{"status not integer", etf.Tuple{int64(1), etf.Binary("200"), etf.List{}, etf.Binary("")}},
		{"status out of range", etf.Tuple{int64(1), int64(42), etf.List{}, etf.Binary("")}},
		{"informational status", etf.Tuple{int64(1), int64(102), etf.List{}, etf.Binary("x")}},
		{"continue status", etf.Tuple{int64(1), int64(100), etf.List{}, etf.Binary("")}},
		{"status too large", etf.Tuple{int64(1), int64(1000), etf.List{}, etf.Binary("")}},
		{"headers not list", etf.Tuple{int64(1), int64(200), etf.Atom("none"), etf.Binary("")}},
		{"header not pair", etf.Tuple{int64(1), int64(200), etf.List{etf.Binary("k")}, etf.Binary("")}},
		{"header value atom", etf.Tuple{int64(1), int64(200), etf.List{etf.Tuple{etf.Binary("k"), etf.Atom("v")}}, etf.Binary("")}},
		{"body atom", etf.Tuple{int64(1), int64(200), etf.List{}, etf.Atom("body")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := etf.Encode(tt.term)
			require.NoError(t, err)
			_, err = DecodeReply(frame)
			assert.ErrorIs(t, err, errspkg.ErrMalformedReply)
		})
	}
}

func TestDecodeReplyGarbage(t *testing.T) {
	_, err := DecodeReply([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errspkg.ErrMalformedReply)
}
