// Package lifecycle models the incident state machine driven by upstream
// status-change events.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/outagex/outagex-sync/internal/models"
)

// ErrNoIncident is returned when a status change arrives with no incident to
// apply it to.
var ErrNoIncident = errors.New("no active incident")

// ErrActiveIncident is returned when a detection arrives while a non-terminal
// incident is still active.
var ErrActiveIncident = errors.New("incident already active")

// ErrTerminalIncident is returned when a status change targets an incident
// that already reached resolved or failed.
var ErrTerminalIncident = errors.New("incident is terminal")

// TransitionWarning reports a transition applied outside the documented
// forward path. The upstream pipeline is authoritative, so the transition is
// still applied; callers surface the warning diagnostically.
type TransitionWarning struct {
	From models.Status
	To   models.Status
}

func (w *TransitionWarning) Error() string {
	return fmt.Sprintf("transition %s -> %s is outside the expected path", w.From, w.To)
}

// forwardPath encodes the expected progression. failed is reachable from any
// non-terminal state and is checked separately.
var forwardPath = map[models.Status]models.Status{
	models.StatusIdle:        models.StatusDetecting,
	models.StatusDetecting:   models.StatusAnalyzing,
	models.StatusAnalyzing:   models.StatusResearching,
	models.StatusResearching: models.StatusDiagnosing,
	models.StatusDiagnosing:  models.StatusProposing,
	models.StatusProposing:   models.StatusExecuting,
	models.StatusExecuting:   models.StatusResolved,
}

// Machine holds the current incident record and applies lifecycle events.
// The zero state is idle: no incident. Not safe for concurrent use; the
// owning store serializes access.
type Machine struct {
	incident *models.Incident

	// now is swappable for tests.
	now func() time.Time
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{now: time.Now}
}

// Detect starts a new incident. It replaces the prior incident only if that
// incident is terminal; otherwise the event is rejected.
func (m *Machine) Detect(in models.Incident) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if m.incident != nil && !m.incident.Status.IsTerminal() {
		return ErrActiveIncident
	}
	if in.Status == "" {
		in.Status = models.StatusDetecting
	}
	if !in.Status.Valid() {
		return fmt.Errorf("incident %s: unknown status %q", in.ID, in.Status)
	}
	copied := in
	m.incident = &copied
	return nil
}

// ApplyStatus moves the current incident to the named target status. The
// machine accepts any declared status, but a transition off the documented
// forward path is reported via a *TransitionWarning alongside being applied.
// Entering resolved populates the resolve timestamp if absent. A terminal
// incident accepts no further status changes; a fresh detection is the only
// way to continue.
func (m *Machine) ApplyStatus(target models.Status, patch *models.Incident) error {
	if m.incident == nil {
		return ErrNoIncident
	}
	if !target.Valid() {
		return fmt.Errorf("incident %s: unknown status %q", m.incident.ID, target)
	}
	if m.incident.Status.IsTerminal() {
		return ErrTerminalIncident
	}

	from := m.incident.Status

	if patch != nil && patch.ID == m.incident.ID {
		m.applyPatch(patch)
	}
	m.incident.Status = target

	if target == models.StatusResolved && m.incident.ResolvedAt == nil {
		resolved := m.now().UTC()
		m.incident.ResolvedAt = &resolved
	}

	if expected, ok := forwardPath[from]; ok && target != expected && target != models.StatusFailed {
		return &TransitionWarning{From: from, To: target}
	}
	return nil
}

// applyPatch copies field updates delivered alongside a status change.
// Status and the resolve timestamp stay under machine control.
func (m *Machine) applyPatch(patch *models.Incident) {
	if patch.Title != "" {
		m.incident.Title = patch.Title
	}
	if patch.Description != "" {
		m.incident.Description = patch.Description
	}
	if patch.Severity != "" {
		m.incident.Severity = patch.Severity
	}
	if len(patch.AffectedServices) > 0 {
		m.incident.AffectedServices = append([]string(nil), patch.AffectedServices...)
	}
}

// CanTrigger reports whether a new incident may be triggered: true iff no
// incident exists or the current one is terminal.
func (m *Machine) CanTrigger() bool {
	return m.incident == nil || m.incident.Status.IsTerminal()
}

// Current returns a copy of the active incident, or nil when idle.
func (m *Machine) Current() *models.Incident {
	if m.incident == nil {
		return nil
	}
	copied := *m.incident
	copied.AffectedServices = append([]string(nil), m.incident.AffectedServices...)
	return &copied
}

// Status returns the current lifecycle status, idle when no incident exists.
func (m *Machine) Status() models.Status {
	if m.incident == nil {
		return models.StatusIdle
	}
	return m.incident.Status
}

// Reset returns the machine to idle.
func (m *Machine) Reset() {
	m.incident = nil
}
