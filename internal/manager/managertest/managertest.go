// Package managertest provides an in-memory manager.Manager for controller tests.
package managertest

import (
	"sync"

	"imu_apiserver/internal/manager"
	"imu_apiserver/internal/sensor"
)

type Manager struct {
	mu sync.Mutex

	Sample   sensor.Sample
	State    manager.Status
	Devices  []string
	Probed   []string
	StartErr error
	StopErr  error
	ProbeErr error

	running         bool
	faulted         bool
	manuallyStopped bool
	starts          int
	stops           int
}

var _ manager.Manager = &Manager{}

func New(sample sensor.Sample) *Manager {
	return &Manager{
		Sample:  sample,
		State:   manager.Status{ID: "imu_0", Device: "/dev/ttyFAKE0", Baud: 921600},
		Devices: []string{"imu_0"},
	}
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.StartErr != nil {
		return m.StartErr
	}
	m.running = true
	m.faulted = false
	m.manuallyStopped = false
	return nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.manuallyStopped = true
	m.running = false
	m.faulted = false
	return m.StopErr
}

func (m *Manager) Restart() error {
	if err := m.Stop(); err != nil {
		return err
	}
	return m.Start()
}

func (m *Manager) Latest() sensor.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Sample
}

func (m *Manager) SetLatest(s sensor.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sample = s
}

func (m *Manager) Status() manager.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.State
	st.Running = m.running
	st.Faulted = m.faulted
	return st
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) Faulted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faulted
}

// Fault marks the manager faulted and no longer running
func (m *Manager) Fault() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faulted = true
	m.running = false
}

func (m *Manager) ManuallyStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manuallyStopped
}

func (m *Manager) ListDev() ([]string, error) {
	return m.Devices, nil
}

func (m *Manager) ProbeDev() ([]string, error) {
	if m.ProbeErr != nil {
		return nil, m.ProbeErr
	}
	return m.Probed, nil
}

// Calls returns how many times Start and Stop were called
func (m *Manager) Calls() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}
