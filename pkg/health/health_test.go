package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"all up", map[string]Check{"postgres": PingCheck(up, true), "redis": PingCheck(up, true)}, StatusUp},
		{"optional down", map[string]Check{"postgres": PingCheck(up, true), "kafka": PingCheck(down, false)}, StatusDegraded},
		{"critical down", map[string]Check{"redis": PingCheck(down, true), "kafka": PingCheck(down, false)}, StatusDown},
		{"none", map[string]Check{}, StatusUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(0)
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			r := c.Run(context.Background())
			if r.Status != tt.want {
				t.Errorf("status = %s, want %s", r.Status, tt.want)
			}
			if len(r.Components) != len(tt.checks) {
				t.Errorf("components = %d, want %d", len(r.Components), len(tt.checks))
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(0)
	c.Register("kafka", PingCheck(down, false))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded should stay ready, got %d", rec.Code)
	}
	var r Report
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.Components["kafka"].Message != "connection refused" {
		t.Errorf("report = %+v", r)
	}

	c.Register("postgres", PingCheck(down, true))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("critical down: status %d", rec.Code)
	}
}

func TestLiveHandler(t *testing.T) {
	c := NewChecker(0)
	c.Register("postgres", PingCheck(down, true))
	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness must not depend on checks, got %d", rec.Code)
	}
}
