package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_SetsRequestIDAndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter("local", &buf)

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) == nil || FromGin(c) == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id echoed")
	}

	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("expected one json record, got %q: %v", line, err)
	}
	if rec["request_id"] != "rid-1" || rec["path"] != "/x" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestMiddleware_TagsCallAndLevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter("production", &buf)))
	r.POST("/v1/calls/:callId/media", func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/calls/c-42/media", nil))

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if rec["call_id"] != "c-42" || rec["level"] != "WARN" || rec["path"] != "/v1/calls/:callId/media" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestAccessLevel(t *testing.T) {
	cases := []struct {
		route  string
		status int
		errs   bool
		want   string
	}{
		{"/healthz", 200, false, "DEBUG"},
		{"/v1/me", 200, false, "INFO"},
		{"/v1/me", 200, true, "ERROR"},
		{"/v1/calls/schedule-callback", 409, false, "WARN"},
		{"/v1/calls/:callId/media", 502, false, "ERROR"},
	}
	for _, tc := range cases {
		if got := accessLevel(tc.route, tc.status, tc.errs).String(); got != tc.want {
			t.Fatalf("%s %d: expected %s, got %s", tc.route, tc.status, tc.want, got)
		}
	}
}
