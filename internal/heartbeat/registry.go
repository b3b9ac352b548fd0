// Package heartbeat tracks the liveness of long-running components so
// the health endpoint can report on the scheduler and the HTTP
// listener without reaching into either.
package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"
)

// Reporter is the write side handed to components; the Registry is the
// only implementation outside tests.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	LastBeatUnix int64  `json:"last_beat_unix,omitempty"`
	UpdatedUnix  int64  `json:"updated_unix"`
}

type Snapshot struct {
	TakenAtUnix int64             `json:"taken_at_unix"`
	Overall     string            `json:"overall"`
	Components  []ComponentStatus `json:"components"`
}

type entry struct {
	state    string
	message  string
	err      string
	lastBeat time.Time
	updated  time.Time
}

type Registry struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]entry{},
	}
}

func (r *Registry) Starting(component, message string) {
	r.record(component, StateStarting, message, nil, false)
}

func (r *Registry) Beat(component, message string) {
	r.record(component, StateHealthy, message, nil, true)
}

func (r *Registry) Degrade(component, message string, err error) {
	r.record(component, StateDegraded, message, err, false)
}

func (r *Registry) Disabled(component, message string) {
	r.record(component, StateDisabled, message, nil, false)
}

func (r *Registry) Stopped(component, message string) {
	r.record(component, StateStopped, message, nil, false)
}

func (r *Registry) record(component, state, message string, err error, beat bool) {
	name := strings.ToLower(strings.TrimSpace(component))
	if name == "" {
		return
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.entries[name]
	item.state = state
	item.message = strings.TrimSpace(message)
	item.err = ""
	if err != nil {
		item.err = strings.TrimSpace(err.Error())
	}
	item.updated = now
	if beat || item.lastBeat.IsZero() {
		item.lastBeat = now
	}
	r.entries[name] = item
}

// Snapshot renders the current component states, demoting components
// whose last beat is older than staleAfter. A zero staleAfter disables
// staleness detection.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	components := make([]ComponentStatus, 0, len(r.entries))
	for name, item := range r.entries {
		status := ComponentStatus{
			Name:        name,
			State:       item.state,
			Message:     item.message,
			Error:       item.err,
			UpdatedUnix: item.updated.Unix(),
		}
		if !item.lastBeat.IsZero() {
			status.LastBeatUnix = item.lastBeat.Unix()
		}
		if staleAfter > 0 && beatExpected(item.state) && now.Sub(item.lastBeat) > staleAfter {
			status.State = StateStale
		}
		components = append(components, status)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return Snapshot{
		TakenAtUnix: now.Unix(),
		Overall:     overall(components),
		Components:  components,
	}
}

func beatExpected(state string) bool {
	return state == StateStarting || state == StateHealthy
}

// overall folds component states into one word: any degraded or stale
// component degrades the whole, a registry with nothing running is
// idle, everything else is healthy.
func overall(components []ComponentStatus) string {
	active := false
	for _, component := range components {
		switch component.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting, StateHealthy:
			active = true
		}
	}
	if !active {
		return "idle"
	}
	return StateHealthy
}
