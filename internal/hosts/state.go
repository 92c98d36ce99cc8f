package hosts

import (
	"sort"
	"sync"

	"li-gateway/internal/common/logging"
)

// State is the delivery health of a host.
type State int

const (
	// Active hosts receive deliveries normally.
	Active State = iota
	// Inactive hosts failed recently but are still retried.
	Inactive
	// Abandoned hosts are not delivered to until they are reset.
	Abandoned
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Inactive:
		return "INACTIVE"
	case Abandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TransitionFunc observes state changes. It is called after the change is
// applied and outside the state lock.
type TransitionFunc func(host string, from, to State)

type hostState struct {
	state    State
	failures int
}

// StateMachine tracks the delivery state of each initialized host, keyed by
// host name. It is safe for concurrent use by consumers, the inbound path and
// the heartbeat scheduler.
type StateMachine struct {
	mu        sync.RWMutex
	hosts     map[string]*hostState
	threshold int
	listeners []TransitionFunc
	logger    logging.Logger
}

// NewStateMachine creates a state machine that abandons a host after
// threshold consecutive delivery failures.
func NewStateMachine(threshold int, logger logging.Logger) *StateMachine {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &StateMachine{
		hosts:     make(map[string]*hostState),
		threshold: threshold,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "host_state"}),
	}
}

// OnTransition registers fn to be called on every state change.
func (m *StateMachine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Initialize puts host in the Active state. Initializing a host twice keeps
// its current state.
func (m *StateMachine) Initialize(host Host) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.hosts[host.Name]; exists {
		return
	}
	m.hosts[host.Name] = &hostState{state: Active}
	logging.ForHost(m.logger, host.Name).Info("Host initialized", logging.Field{Key: "state", Value: Active.String()})
}

// RecordDeliverySuccess clears the failure count and returns an Inactive
// host to Active. Abandoned hosts stay abandoned until Reset.
func (m *StateMachine) RecordDeliverySuccess(name string) {
	m.update(name, func(hs *hostState) State {
		if hs.state == Abandoned {
			return Abandoned
		}
		hs.failures = 0
		return Active
	})
}

// RecordDeliveryFailure counts a failed delivery. The host becomes Inactive,
// or Abandoned once the threshold is reached.
func (m *StateMachine) RecordDeliveryFailure(name string) {
	m.update(name, func(hs *hostState) State {
		hs.failures++
		if hs.failures >= m.threshold {
			return Abandoned
		}
		return Inactive
	})
}

// RecordUnrecoverableFailure abandons the host immediately.
func (m *StateMachine) RecordUnrecoverableFailure(name string) {
	m.update(name, func(hs *hostState) State {
		hs.failures++
		return Abandoned
	})
}

// Reset returns the host to Active from any state.
func (m *StateMachine) Reset(name string) {
	m.update(name, func(hs *hostState) State {
		hs.failures = 0
		return Active
	})
}

// IsAdmissible reports whether deliveries to the host may be attempted.
// Hosts that were never initialized are not admissible.
func (m *StateMachine) IsAdmissible(name string) bool {
	state, ok := m.State(name)
	return ok && state != Abandoned
}

// State returns the current state of the host.
func (m *StateMachine) State(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hs, ok := m.hosts[name]
	if !ok {
		return 0, false
	}
	return hs.state, true
}

// Failures returns the consecutive failure count of the host.
func (m *StateMachine) Failures(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if hs, ok := m.hosts[name]; ok {
		return hs.failures
	}
	return 0
}

// HostStatus is one entry of a Snapshot.
type HostStatus struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Failures int    `json:"failures"`
}

// Snapshot returns the state of every initialized host, sorted by name.
func (m *StateMachine) Snapshot() []HostStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]HostStatus, 0, len(m.hosts))
	for name, hs := range m.hosts {
		out = append(out, HostStatus{Name: name, State: hs.state, Failures: hs.failures})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *StateMachine) update(name string, next func(*hostState) State) {
	m.mu.Lock()
	hs, ok := m.hosts[name]
	if !ok {
		m.mu.Unlock()
		logging.ForHost(m.logger, name).Warn("State update for uninitialized host ignored")
		return
	}

	from := hs.state
	to := next(hs)
	hs.state = to
	failures := hs.failures
	listeners := m.listeners
	m.mu.Unlock()

	if from == to {
		return
	}

	logging.ForHost(m.logger, name).Info("Host state changed",
		logging.Field{Key: "from", Value: from.String()},
		logging.Field{Key: "to", Value: to.String()},
		logging.Field{Key: "failures", Value: failures},
	)
	for _, fn := range listeners {
		fn(name, from, to)
	}
}
