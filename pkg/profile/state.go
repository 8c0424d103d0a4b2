package profile

import (
	"sync"
	"time"
)

const historyWindow = 100

// RunRecord is one completed profile run.
type RunRecord struct {
	Transition string        `json:"transition"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// State is the in-memory runtime state of one profile.
type State struct {
	Name         string        `json:"name"`
	Active       bool          `json:"active"`
	InFlight     int           `json:"inFlight"`
	TotalRuns    int           `json:"totalRuns"`
	Successes    int           `json:"successes"`
	Failures     int           `json:"failures"`
	MovingAvg    time.Duration `json:"movingAvg"`
	LastActivity time.Time     `json:"lastActivity,omitzero"`
	History      []RunRecord   `json:"history,omitempty"`
}

type stateTable struct {
	mu     sync.Mutex
	states map[string]*State
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[string]*State)}
}

func (t *stateTable) get(name string) *State {
	s, ok := t.states[name]
	if !ok {
		s = &State{Name: name}
		t.states[name] = s
	}
	return s
}

// BeginRun marks a profile run as started.
func (r *Registry) BeginRun(name string) {
	t := r.states
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(name)
	s.InFlight++
	s.Active = true
	s.LastActivity = time.Now().UTC()
}

// EndRun records a completed run and refreshes the rolling history. The
// moving average covers at most the last 100 runs.
func (r *Registry) EndRun(name, transition string, duration time.Duration, success bool) {
	t := r.states
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(name)
	if s.InFlight > 0 {
		s.InFlight--
	}
	s.Active = s.InFlight > 0
	s.TotalRuns++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.History = append(s.History, RunRecord{
		Transition: transition,
		Duration:   duration,
		Success:    success,
		FinishedAt: time.Now().UTC(),
	})
	if len(s.History) > historyWindow {
		s.History = s.History[len(s.History)-historyWindow:]
	}
	var total time.Duration
	for _, rec := range s.History {
		total += rec.Duration
	}
	s.MovingAvg = total / time.Duration(len(s.History))
	s.LastActivity = time.Now().UTC()
}

// RuntimeState returns a copy of the profile's runtime state.
func (r *Registry) RuntimeState(name string) State {
	t := r.states
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(name)
	out := *s
	out.History = append([]RunRecord(nil), s.History...)
	return out
}
