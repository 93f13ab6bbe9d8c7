package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/backend-bizadmin/internal/common"
)

const defaultProbeTimeout = 500 * time.Millisecond

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles readiness, e.g. to drain traffic during shutdown.
func SetReady(v bool) {
	ready.Store(v)
}

// Probe checks a single dependency. Only configured dependencies get a probe,
// so a file-backed catalog without Redis reports just "catalog".
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes  []Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe with its own timeout and reports per-dependency status.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	status := make(map[string]string, len(h.Probes))
	healthy := true
	for _, probe := range h.Probes {
		if err := h.run(r.Context(), probe); err != nil {
			status[probe.Name] = err.Error()
			healthy = false
			continue
		}
		status[probe.Name] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) run(ctx context.Context, probe Probe) error {
	if probe.Check == nil {
		return nil
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return probe.Check(ctx)
}
