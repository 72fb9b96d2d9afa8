// Package command tracks the single outstanding remote command and
// dispatches it to a registered handler. There is exactly one command
// slot: a second command with a different id is refused until the
// in-flight one resolves, and re-delivery of an already-handled id is
// tolerated without running the handler twice.
package command

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"connect-agent/pkg/models"
)

// Command is one remote command as decoded from a service response.
type Command struct {
	ID     int
	Name   models.CommandName
	Args   []any
	Kwargs map[string]any
}

// Result is the named bag a handler returns. Source is the one
// mandatory field; Event defaults to FINISHED when empty; Data carries
// any extra fields for the outcome event.
type Result struct {
	Source models.Source
	Event  models.EventKind
	Data   map[string]any
}

// Handler executes one command. Handlers run synchronously on the
// network thread, so long work must be handed off to a background
// context by the handler itself.
type Handler func(cmd *Command) (Result, error)

// EventFunc reports command lifecycle events back to the queue.
type EventFunc func(kind models.EventKind, source models.Source, commandID int, reason string, data map[string]any)

// Machine is the single-slot command state machine. It is driven only
// from the network thread, so its fields need no locking.
type Machine struct {
	handlers map[models.CommandName]Handler
	emit     EventFunc
	log      *logrus.Entry

	inFlight  bool
	currentID int
	hasLast   bool
	lastID    int
}

// NewMachine creates an empty machine reporting outcomes through emit.
func NewMachine(emit EventFunc) *Machine {
	return &Machine{
		handlers: make(map[models.CommandName]Handler),
		emit:     emit,
		log:      logrus.WithField("component", "command"),
	}
}

// SetHandler binds a handler to a command name, replacing any previous
// binding.
func (m *Machine) SetHandler(name models.CommandName, handler Handler) {
	m.handlers[name] = handler
}

// CheckState reports whether a command with the given id may be
// accepted: true when no command is in flight or the id matches the
// in-flight one (idempotent re-delivery), false when a different
// command occupies the slot.
func (m *Machine) CheckState(id int) bool {
	if !m.inFlight {
		return true
	}
	return m.currentID == id
}

// Accept records the command as in flight, runs its handler and emits
// the outcome event. The slot is freed unconditionally: commands never
// get stuck, whatever the handler does.
//
// Re-delivery of the id that was just handled, or of the id currently
// in flight, is a no-op.
func (m *Machine) Accept(id int, name models.CommandName, args []any, kwargs map[string]any) {
	if (m.inFlight && id == m.currentID) || (m.hasLast && id == m.lastID) {
		m.log.WithField("command_id", id).Debug("Duplicate command delivery, ignoring")
		return
	}

	m.inFlight = true
	m.currentID = id
	defer func() {
		m.hasLast = true
		m.lastID = id
		m.inFlight = false
	}()

	m.emit(models.EventAccepted, models.SourceConnect, id, "", nil)

	handler, ok := m.handlers[name]
	if !ok {
		m.log.WithFields(logrus.Fields{
			"command_id": id,
			"command":    name,
		}).Error("No handler for command")
		m.emit(models.EventRejected, models.SourceConnect, id,
			fmt.Sprintf("Unknown command %q", name), nil)
		return
	}

	result, err := handler(&Command{ID: id, Name: name, Args: args, Kwargs: kwargs})
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"command_id": id,
			"command":    name,
		}).WithError(err).Error("Command failed")
		m.emit(models.EventRejected, models.SourceConnect, id, err.Error(), nil)
		return
	}

	kind := result.Event
	if kind == "" {
		kind = models.EventFinished
	}
	source := result.Source
	if source == "" {
		source = models.SourceConnect
	}
	m.emit(kind, source, id, "", result.Data)
}
