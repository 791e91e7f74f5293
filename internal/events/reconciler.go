package events

import (
	"fmt"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Keys the reconciler maintains on list items.
const (
	RefKey     = "$ref"
	DeletedKey = "__deleted__"
)

// Reconciler folds records into the merged state of one subscription.
// Every change produces a new top-level map and items slice, so snapshots
// handed out earlier are never modified.
type Reconciler struct {
	state  map[string]any
	logger *zap.Logger
}

// NewReconciler returns a reconciler with an empty state.
func NewReconciler(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{state: map[string]any{}, logger: logger}
}

// State returns the current merged snapshot.
func (r *Reconciler) State() map[string]any {
	return r.state
}

// Apply folds one record. It reports whether the state changed and
// subscribers should be notified. Malformed data is returned as an error
// and leaves the state untouched.
func (r *Reconciler) Apply(rec Record) (map[string]any, bool, error) {
	switch rec.Event {
	case EventHeartbeat:
		return r.state, false, nil

	case EventResync:
		if !rec.HasData {
			return r.state, false, nil
		}
		data, err := decode(rec)
		if err != nil {
			return r.state, false, err
		}
		r.state = data
		return r.state, true, nil

	case EventCreated:
		if !rec.HasID || !rec.HasData {
			return r.state, false, nil
		}
		data, err := decode(rec)
		if err != nil {
			return r.state, false, err
		}
		data[RefKey] = rec.ID
		items, _ := r.state["items"].([]any)
		next := append(make([]any, 0, len(items)+1), items...)
		if i := indexOf(next, rec.ID); i >= 0 {
			next[i] = data
		} else {
			next = append(next, data)
		}
		r.state = with(r.state, "items", next)
		return r.state, true, nil

	case EventUpdated:
		items, isList := r.state["items"].([]any)
		if !isList {
			if !rec.HasData {
				return r.state, false, nil
			}
			data, err := decode(rec)
			if err != nil {
				return r.state, false, err
			}
			r.state = data
			return r.state, true, nil
		}
		if !rec.HasID || !rec.HasData {
			return r.state, false, nil
		}
		i := indexOf(items, rec.ID)
		if i < 0 {
			r.logger.Error("updated item not found for merging", zap.String("id", rec.ID))
			return r.state, false, nil
		}
		data, err := decode(rec)
		if err != nil {
			return r.state, false, err
		}
		data[RefKey] = rec.ID
		next := append([]any(nil), items...)
		next[i] = data
		r.state = with(r.state, "items", next)
		return r.state, true, nil

	case EventDeleted:
		items, isList := r.state["items"].([]any)
		if !isList {
			r.state = map[string]any{}
			return r.state, true, nil
		}
		if !rec.HasID {
			return r.state, false, nil
		}
		i := indexOf(items, rec.ID)
		if i < 0 {
			return r.state, false, nil
		}
		next := append([]any(nil), items...)
		tomb := map[string]any{DeletedKey: true}
		if old, ok := items[i].(map[string]any); ok {
			tomb = with(old, DeletedKey, true)
		}
		next[i] = tomb
		r.state = with(r.state, "items", next)
		return r.state, true, nil

	default:
		r.logger.Debug("ignoring event",
			zap.String("event", rec.Event), zap.String("id", rec.ID))
		return r.state, false, nil
	}
}

func decode(rec Record) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(rec.Data), &data); err != nil {
		return nil, fmt.Errorf("events: decoding %s data: %w", rec.Event, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func indexOf(items []any, ref string) int {
	for i, it := range items {
		if m, ok := it.(map[string]any); ok && m[RefKey] == ref {
			return i
		}
	}
	return -1
}

// with returns a shallow copy of m with key set to value.
func with(m map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}
