package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/predictex/predictex/pkg/core"
)

func TestEngineErrorResponsesHideInternals(t *testing.T) {
	s := &Server{log: zap.NewNop().Sugar()}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
		hidden string
	}{
		{
			name:   "storage failure",
			err:    fmt.Errorf("%w: %v", core.ErrStorageUnavailable, errors.New("pebble: open /var/lib/px/db/000001.log: disk on fire")),
			status: http.StatusServiceUnavailable,
			code:   "StorageUnavailable",
			hidden: "/var/lib/px",
		},
		{
			name:   "unclassified failure",
			err:    errors.New("runtime error: index out of range [3]"),
			status: http.StatusInternalServerError,
			code:   "InternalError",
			hidden: "index out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.respondEngineError(w, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var body ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != tt.code {
				t.Errorf("code = %q, want %q", body.Error, tt.code)
			}
			if strings.Contains(body.Message, tt.hidden) {
				t.Errorf("response leaks internals: %q", body.Message)
			}
		})
	}
}

func TestEngineErrorResponsesKeepRejectionDetail(t *testing.T) {
	s := &Server{log: zap.NewNop().Sugar()}

	w := httptest.NewRecorder()
	s.respondEngineError(w, fmt.Errorf("%w: price 0 out of range", core.ErrMalformedOrder))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "MalformedOrder" {
		t.Errorf("code = %q, want MalformedOrder", body.Error)
	}
	if !strings.Contains(body.Message, "price 0 out of range") {
		t.Errorf("rejection detail missing from %q", body.Message)
	}
}
