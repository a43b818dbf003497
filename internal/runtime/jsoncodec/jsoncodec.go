// Package jsoncodec encodes the admin API bodies (/api/registry, /api/stats,
// /healthz) with sonic, configured to match encoding/json output.
package jsoncodec

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// ContentType is sent with every admin response.
const ContentType = "application/json"

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Respond writes status and v as the admin response. The status line is sent
// before encoding, so an encoding error can only be logged.
func Respond(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return Encode(w, v)
}
