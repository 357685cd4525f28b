// Package recovery repairs session state left behind by a previous process
// before DreamPipe starts accepting updates.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable is a component that fixes up its own persisted state at startup.
type Recoverable interface {
	// Name identifies the component in logs.
	Name() string
	// Recover repairs state and returns how many records it touched.
	Recover(ctx context.Context) (int, error)
}

// Manager runs every registered Recoverable once.
type Manager struct {
	recoverables []Recoverable
}

// NewManager creates a Manager with the given components.
func NewManager(rs ...Recoverable) *Manager {
	return &Manager{recoverables: rs}
}

// Register adds a component.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll runs every component, continuing past failures, and reports
// an error if any of them failed.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting startup recovery", "components", len(m.recoverables))

	recovered, failed := 0, 0
	for _, r := range m.recoverables {
		n, err := r.Recover(ctx)
		if err != nil {
			slog.Error("Component recovery failed", "error", err, "component", r.Name())
			failed++
			continue
		}
		slog.Debug("Component recovered", "component", r.Name(), "records", n)
		recovered += n
	}

	slog.Info("Startup recovery completed", "records", recovered, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.recoverables))
	}
	return nil
}
