package api

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/laptopctl/internal/config"
	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/profile"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"codeberg.org/mutker/laptopctl/internal/thermal"
)

type mockService struct {
	mu        sync.Mutex
	snapshot  sensor.Snapshot
	history   []sensor.Snapshot
	submitErr error
	submitted []control.Command
	active    profile.HardwareProfile
	profiles  []string
	state     thermal.State
	rgb       control.RgbState
	alerts    []thermal.Alert
	interval  time.Duration
	sensorErr error
	lastN     int
}

func (m *mockService) GetSnapshot() sensor.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *mockService) setSnapshot(s sensor.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
}

func (m *mockService) GetHistory(n int) []sensor.Snapshot {
	m.lastN = n
	if n < len(m.history) {
		return m.history[len(m.history)-n:]
	}
	return m.history
}

func (m *mockService) SubmitCommand(_ context.Context, cmd control.Command) error {
	m.submitted = append(m.submitted, cmd)
	return m.submitErr
}

func (m *mockService) GetActiveProfile() profile.HardwareProfile { return m.active }
func (m *mockService) ListProfiles() []string                   { return m.profiles }
func (m *mockService) GetThermalState() thermal.State           { return m.state }
func (m *mockService) GetRgbState() control.RgbState            { return m.rgb }
func (m *mockService) GetAlerts() []thermal.Alert               { return m.alerts }
func (m *mockService) SensorError() error                       { return m.sensorErr }

func (m *mockService) SetInterval(d time.Duration) error {
	if err := config.ValidateInterval(d); err != nil {
		return err
	}
	m.interval = d
	return nil
}

func (m *mockService) Interval() time.Duration {
	if m.interval == 0 {
		return time.Second
	}
	return m.interval
}
