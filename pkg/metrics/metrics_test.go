package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.PostsCreatedTotal.Inc()
	m.RateLimitDecisions.WithLabelValues("rejected").Add(2)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"posts_created_total 1",
		`ratelimit_decisions_total{outcome="rejected"} 2`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestListenServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegisterer(reg).PostsCreatedTotal.Add(3)

	s, err := Listen(0, reg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "posts_created_total 3") {
		t.Errorf("scrape output = %s", body)
	}

	if _, err := Listen(portOf(t, s.Addr()), reg); err == nil {
		t.Error("expected error binding a port already in use")
	}
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return n
}
