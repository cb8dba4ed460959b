package probe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

import (
	"github.com/nanjiek/relay-sync/internal/config"
	"github.com/nanjiek/relay-sync/internal/metrics"
	"github.com/nanjiek/relay-sync/internal/types"
)

// statPath is the relay's health endpoint, relative to the base address.
const statPath = "/stat/"

// Prober classifies the reachability of a relay base address.
type Prober interface {
	Probe(ctx context.Context, baseAddress string) types.RelayState
}

// HTTPProbe issues a single uncached GET against <base>/stat/ and classifies
// the result. No retries here; the caller's periodic trigger is the retry.
type HTTPProbe struct {
	client *http.Client
	log    *slog.Logger
}

func NewHTTPProbe(cfg config.ProbeCfg) *HTTPProbe {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		client: &http.Client{Timeout: timeout},
		log:    slog.Default(),
	}
}

// Probe classification:
// - transport failure or non-2xx status        => Offline
// - 2xx with a JSON body carrying bool "online" => that flag verbatim
// - 2xx otherwise (empty/unparseable body)      => Online
// The structured flag lets the relay self-report degraded states while still
// TCP-reachable.
func (p *HTTPProbe) Probe(ctx context.Context, baseAddress string) types.RelayState {
	state := p.probe(ctx, baseAddress)
	metrics.ProbesTotal.WithLabelValues(string(state)).Inc()
	return state
}

func (p *HTTPProbe) probe(ctx context.Context, baseAddress string) types.RelayState {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseAddress+statPath, nil)
	if err != nil {
		p.log.Warn("probe request build failed", "base", baseAddress, "error", err)
		return types.StateOffline
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.StateOffline
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.StateOffline
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.StateOffline
	}

	// Parse optimistically; a body with no usable flag still counts as
	// reachable.
	var stat struct {
		Online *bool `json:"online"`
	}
	if err := json.Unmarshal(body, &stat); err == nil && stat.Online != nil {
		if !*stat.Online {
			return types.StateOffline
		}
	}
	return types.StateOnline
}
