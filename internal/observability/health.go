package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now().UTC()

// HealthResponse is the body of /ui/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse is the body of /ui/ready.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
	Info   map[string]any         `json:"info,omitempty"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds what /ui/ready consults.
type ReadinessChecks struct {
	// ControlPlane reports whether calls to the control plane are let
	// through. Required; a missing check reads as not ready.
	ControlPlane func() error
	// SettingsStore is checked when the store can report its health.
	SettingsStore HealthChecker
	// Info adds values to the answer that never fail readiness, such as
	// the breaker state or the number of open event relays.
	Info func() map[string]any
}

const checkTimeout = 2 * time.Second

var errControlPlaneUnchecked = errors.New("no control plane check configured")

// HandleHealth serves liveness. It never consults dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Version:   Version,
			Commit:    Commit,
			StartedAt: startedAt,
		})
	}
}

// HandleReady serves readiness. Checks run concurrently, each bounded by
// checkTimeout; any failed check answers 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	controlPlane := CheckFunc(func(context.Context) error {
		if checks.ControlPlane == nil {
			return errControlPlaneUnchecked
		}
		return checks.ControlPlane()
	})

	return func(w http.ResponseWriter, r *http.Request) {
		named := map[string]HealthChecker{"controlplane": controlPlane}
		if checks.SettingsStore != nil {
			named["settings_store"] = checks.SettingsStore
		}

		var (
			mu      sync.Mutex
			results = make(map[string]CheckResult, len(named))
			g       errgroup.Group
		)
		for name, checker := range named {
			g.Go(func() error {
				res := runCheck(r.Context(), checker)
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results}
		status := http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				break
			}
		}
		if checks.Info != nil {
			resp.Info = checks.Info()
		}
		writeJSON(w, status, resp)
	}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
