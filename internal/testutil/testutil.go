// Package testutil provides shared fixtures for gesture and HTTP tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/shelfd/internal/pointer"
)

// Held returns a sample with the left button down.
func Held(x, y float64, ts int64) pointer.Sample {
	return pointer.Sample{X: x, Y: y, TimestampMs: ts, LeftButtonDown: true}
}

// Wiggle returns n held samples alternating between x and x+amplitude on
// row y, step milliseconds apart starting at t0. Every interior sample is a
// direction reversal.
func Wiggle(x, y, amplitude float64, t0, step int64, n int) []pointer.Sample {
	out := make([]pointer.Sample, 0, n)
	for i := 0; i < n; i++ {
		px := x
		if i%2 == 1 {
			px = x + amplitude
		}
		out = append(out, Held(px, y, t0+int64(i)*step))
	}
	return out
}

// DraggedFiles builds drag payload items from paths.
func DraggedFiles(paths ...string) []pointer.Item {
	return pointer.ItemsFromPaths(paths)
}

// NewJSONRequest creates a test HTTP request. An empty body sends none.
func NewJSONRequest(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// AssertStatus checks the recorder's status code and reports the body on
// mismatch.
func AssertStatus(t testing.TB, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d (body: %s)", rec.Code, want, strings.TrimSpace(rec.Body.String()))
	}
}

// DecodeJSON unmarshals the recorder's body into v, failing the test on error.
func DecodeJSON(t testing.TB, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
