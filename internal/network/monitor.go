// Package network tracks whether the remote service is reachable.
//
// The platform's connectivity signal is only a hint: an offline report is
// trusted immediately, but an online report moves the monitor into a
// reconnecting state until an active probe confirms the remote service
// answers. Observers are notified on state edges only.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrlokans/shelfsync/internal/events"
	"github.com/mrlokans/shelfsync/internal/logging"
)

// Prober performs a lightweight request against the remote service.
type Prober interface {
	Ping(ctx context.Context) (time.Duration, error)
}

const (
	EffectiveUnknown = "unknown"
	Effective4G      = "4g"
	Effective3G      = "3g"
	Effective2G      = "2g"
	EffectiveSlow2G  = "slow-2g"
)

// State is a snapshot of the monitor.
type State struct {
	Online        bool          `json:"online"`
	Reconnecting  bool          `json:"reconnecting"`
	EffectiveType string        `json:"effective_type"`
	LastChecked   time.Time     `json:"last_checked,omitempty"`
	LastLatency   time.Duration `json:"last_latency_ns,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

func (s State) sameEdge(o State) bool {
	return s.Online == o.Online && s.Reconnecting == o.Reconnecting
}

type Config struct {
	ProbeTimeout  time.Duration
	InitialOnline bool
	Now           func() time.Time
}

type Monitor struct {
	prober Prober
	cfg    Config
	log    *zerolog.Logger

	mu    sync.RWMutex
	state State

	// probeMu serialises probes so a slow probe cannot overwrite a newer one.
	probeMu sync.Mutex

	changes *events.Bus[State]
}

func NewMonitor(prober Prober, cfg Config) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		prober:  prober,
		cfg:     cfg,
		log:     logging.Get("network"),
		state:   State{Online: cfg.InitialOnline, EffectiveType: EffectiveUnknown},
		changes: events.NewBus[State](),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Online
}

func (m *Monitor) IsReconnecting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Reconnecting
}

func (m *Monitor) EffectiveType() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.EffectiveType
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnChange registers fn for online, offline and reconnecting edges.
func (m *Monitor) OnChange(fn func(State)) (unsubscribe func()) {
	return m.changes.Subscribe(fn)
}

// TestConnectivity probes the remote service and updates the state with
// the result.
func (m *Monitor) TestConnectivity(ctx context.Context) bool {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	latency, err := m.prober.Ping(probeCtx)
	online := err == nil

	m.update(func(s *State) {
		s.Online = online
		s.Reconnecting = false
		s.LastChecked = m.cfg.Now().UTC()
		if online {
			s.LastLatency = latency
			s.EffectiveType = classify(latency)
			s.LastError = ""
		} else {
			s.LastError = err.Error()
		}
	})

	if err != nil {
		m.log.Debug().Err(err).Msg("connectivity probe failed")
	} else {
		m.log.Debug().Dur("latency", latency).Msg("connectivity probe succeeded")
	}
	return online
}

// ReportConnectivity feeds a platform connectivity signal into the monitor.
// Going offline is immediate; coming back online is confirmed by a probe.
func (m *Monitor) ReportConnectivity(ctx context.Context, online bool) {
	if !online {
		m.update(func(s *State) {
			s.Online = false
			s.Reconnecting = false
		})
		return
	}

	var reconnect bool
	m.update(func(s *State) {
		if !s.Online {
			s.Reconnecting = true
			reconnect = true
		}
	})
	if reconnect {
		m.TestConnectivity(ctx)
	}
}

// Resume runs the one-shot probe after the host process wakes up.
func (m *Monitor) Resume(ctx context.Context) bool {
	m.log.Debug().Msg("resume probe")
	return m.TestConnectivity(ctx)
}

func (m *Monitor) update(fn func(*State)) {
	m.mu.Lock()
	before := m.state
	fn(&m.state)
	after := m.state
	m.mu.Unlock()

	if !before.sameEdge(after) {
		m.log.Info().Bool("online", after.Online).Bool("reconnecting", after.Reconnecting).Msg("connectivity changed")
		m.changes.Publish(after)
	}
}

func classify(rtt time.Duration) string {
	switch {
	case rtt < 150*time.Millisecond:
		return Effective4G
	case rtt < 400*time.Millisecond:
		return Effective3G
	case rtt < 1400*time.Millisecond:
		return Effective2G
	default:
		return EffectiveSlow2G
	}
}
