package workflow

// Status is a snapshot of worker activity.
type Status struct {
	Running   bool
	InFlight  int
	Handled   int64
	LastError string
}

// Status reports the current worker state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{Running: m.running, InFlight: len(m.inflight), Handled: m.handled}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
