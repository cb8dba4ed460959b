package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

import (
	"github.com/nanjiek/relay-sync/internal/config"
	"github.com/nanjiek/relay-sync/internal/types"
)

func newProbe() *HTTPProbe {
	return NewHTTPProbe(config.ProbeCfg{TimeoutMs: 1000})
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeOnlineFlagFalse(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"online": false}`))
	})
	if got := newProbe().Probe(context.Background(), srv.URL); got != types.StateOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}

func TestProbeOnlineFlagTrue(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"online": true, "channels": 3}`))
	})
	if got := newProbe().Probe(context.Background(), srv.URL); got != types.StateOnline {
		t.Fatalf("expected online, got %s", got)
	}
}

func TestProbeEmptyBodyIsOnline(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if got := newProbe().Probe(context.Background(), srv.URL); got != types.StateOnline {
		t.Fatalf("expected online, got %s", got)
	}
}

func TestProbeUnparseableBodyIsOnline(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok, but not json"))
	})
	if got := newProbe().Probe(context.Background(), srv.URL); got != types.StateOnline {
		t.Fatalf("expected online, got %s", got)
	}
}

func TestProbeNonSuccessStatusIsOffline(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	if got := newProbe().Probe(context.Background(), srv.URL); got != types.StateOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}

func TestProbeConnectionFailureIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // now unreachable
	if got := newProbe().Probe(context.Background(), srv.URL); got != types.StateOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}

func TestProbeHitsStatPath(t *testing.T) {
	var path string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	})
	newProbe().Probe(context.Background(), srv.URL)
	if path != "/stat/" {
		t.Fatalf("probe path = %q, want /stat/", path)
	}
}
