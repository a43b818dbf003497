package jsoncodec

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type snapshot struct {
	Capacity int      `json:"capacity"`
	Pending  int      `json:"pending"`
	IDs      []uint32 `json:"ids"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := snapshot{Capacity: 8, Pending: 2, IDs: []uint32{1, 7}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"capacity":8`) {
		t.Fatalf("expected capacity field, got %s", data)
	}

	var out snapshot
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.Capacity != in.Capacity || out.Pending != in.Pending || len(out.IDs) != 2 || out.IDs[1] != 7 {
		t.Fatalf("expected round trip to match, got %#v", out)
	}
}

func TestEncodeWritesTrailingNewline(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Encode(buf, snapshot{Capacity: 1}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected trailing newline, got %q", buf.String())
	}

	var decoded snapshot
	if err := Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Capacity != 1 {
		t.Fatalf("unexpected decoded value %#v", decoded)
	}
}

func TestRespondSetsAdminHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	if err := Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "backend unavailable"}); err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != ContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("unexpected cache control %q", got)
	}
	if w.Body.String() != "{\"status\":\"backend unavailable\"}\n" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}
