package internal

import (
	"sync/atomic"
)

// Metrics holds process-wide counters exposed on /metrics.
type Metrics struct {
	logins                  atomic.Uint64
	activeConns             atomic.Int64
	rejectedUnauthenticated atomic.Uint64
	rejectedForbidden       atomic.Uint64
	messages                atomic.Uint64
	malformed               atomic.Uint64
	persistenceFailures     atomic.Uint64
	deliveryFailures        atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncRejected(code int) {
	switch code {
	case CloseForbidden:
		m.rejectedForbidden.Add(1)
	default:
		m.rejectedUnauthenticated.Add(1)
	}
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncMalformed() {
	m.malformed.Add(1)
}

func (m *Metrics) IncPersistenceFailure() {
	m.persistenceFailures.Add(1)
}

func (m *Metrics) IncDeliveryFailure() {
	m.deliveryFailures.Add(1)
}

// Snapshot returns the current counter values keyed by their exported names.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"logins_total":               m.logins.Load(),
		"active_connections":         m.activeConns.Load(),
		"rejected_unauthenticated":   m.rejectedUnauthenticated.Load(),
		"rejected_forbidden":         m.rejectedForbidden.Load(),
		"messages_total":             m.messages.Load(),
		"malformed_messages_total":   m.malformed.Load(),
		"persistence_failures_total": m.persistenceFailures.Load(),
		"delivery_failures_total":    m.deliveryFailures.Load(),
	}
}
