package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/controlplane"
	"github.com/pitabwire/dbconsole/internal/events"
	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/model"
)

// EventError is sent once before the relay closes on an upstream failure.
const EventError = "ERROR"

// monitored reports whether a live relay watches any of paths. Mutations
// elsewhere are only seen after the browser reads again.
func (h *Handlers) monitored(paths ...string) bool {
	if h.hub == nil || h.hub.Registry() == nil {
		return false
	}
	reg := h.hub.Registry()
	for _, p := range paths {
		if p != "" && reg.Has(p) {
			return true
		}
	}
	return false
}

// handleEvents relays the reconciled state of a control plane event
// stream to the browser: each snapshot is one SNAPSHOT record. Snapshots
// the browser has not consumed yet are replaced by newer ones.
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	path, err := resourcePath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rctx, err := session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, paths, err := h.paths(r.Context(), rctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, err := paths.SchemaPath(path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, ok := paths[key]["get"]; key == "" || !ok {
		h.fail(w, r, model.NewNotFoundError(fmt.Sprintf("%s cannot be watched", path)))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, r, model.NewInternalError())
		return
	}
	if q := withoutParam(r.URL.RawQuery, AccessTokenParam); q != "" {
		path += "?" + q
	}

	w.Header().Set("Content-Type", controlplane.ContentEvents)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots := make(chan map[string]any, 1)
	failures := make(chan error, 1)
	offer := func(snap map[string]any) {
		for {
			select {
			case snapshots <- snap:
				return
			default:
			}
			select {
			case <-snapshots:
			default:
			}
		}
	}

	// Each relay owns its subscription; the browser ends it by closing
	// the stream.
	subKey := rctx.Subject + "|" + uuid.NewString()
	sub := h.hub.Open(ctx, subKey, h.cp.Session(rctx.Token), path, offer, func(err error) {
		select {
		case failures <- err:
		default:
		}
	})
	defer h.hub.Close(subKey)

	logger := observability.RequestLogger(r.Context(), h.logger).With(zap.String("path", path))
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	send := func(snap map[string]any) bool {
		data, err := json.Marshal(snap)
		if err != nil {
			logger.Error("encoding snapshot", zap.Error(err))
			return false
		}
		rec := events.Record{Event: events.EventSnapshot, Data: string(data), HasData: true}
		if _, err := w.Write(events.Encode(rec)); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	fail := func(err error) {
		logger.Warn("event relay upstream failed", zap.Error(err))
		data, _ := json.Marshal(Envelope(err, r.URL.RequestURI()))
		rec := events.Record{Event: EventError, Data: string(data), HasData: true}
		if _, werr := w.Write(events.Encode(rec)); werr != nil {
			logger.Debug("browser left before the error record", zap.Error(werr))
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			if !send(snap) {
				return
			}
		case err := <-failures:
			fail(err)
			return
		case <-sub.Done():
			// Both channels are filled before Done closes.
			select {
			case snap := <-snapshots:
				send(snap)
			default:
			}
			select {
			case err := <-failures:
				fail(err)
			default:
			}
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// withoutParam drops name from a raw query, keeping the order of the rest.
func withoutParam(raw, name string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	kept := parts[:0]
	for _, p := range parts {
		if k, _, _ := strings.Cut(p, "="); p != "" && k != name {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "&")
}
