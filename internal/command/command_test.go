package command

import (
	"errors"
	"testing"

	"connect-agent/pkg/models"
)

type emitted struct {
	kind      models.EventKind
	source    models.Source
	commandID int
	reason    string
	data      map[string]any
}

func newTestMachine() (*Machine, *[]emitted) {
	var events []emitted
	m := NewMachine(func(kind models.EventKind, source models.Source,
		commandID int, reason string, data map[string]any) {
		events = append(events, emitted{kind, source, commandID, reason, data})
	})
	return m, &events
}

func TestAcceptRunsHandlerOnce(t *testing.T) {
	m, events := newTestMachine()

	calls := 0
	m.SetHandler(models.CmdSendInfo, func(cmd *Command) (Result, error) {
		calls++
		return Result{Source: models.SourceConnect, Event: models.EventInfo}, nil
	})

	// Same id delivered three times, as after a lost response.
	for i := 0; i < 3; i++ {
		if !m.CheckState(7) {
			t.Fatalf("CheckState(7) should pass on delivery %d", i)
		}
		m.Accept(7, models.CmdSendInfo, nil, nil)
	}

	if calls != 1 {
		t.Errorf("Handler ran %d times, want exactly 1", calls)
	}
	if len(*events) != 2 {
		t.Fatalf("Got %d events, want ACCEPTED + outcome", len(*events))
	}
	if (*events)[0].kind != models.EventAccepted || (*events)[0].commandID != 7 {
		t.Errorf("First event should be ACCEPTED for id 7, got %+v", (*events)[0])
	}
	if (*events)[1].kind != models.EventInfo || (*events)[1].commandID != 7 {
		t.Errorf("Outcome should be INFO for id 7, got %+v", (*events)[1])
	}
}

func TestZeroCommandID(t *testing.T) {
	m, events := newTestMachine()

	calls := 0
	m.SetHandler(models.CmdSendInfo, func(cmd *Command) (Result, error) {
		calls++
		return Result{Source: models.SourceConnect, Event: models.EventInfo}, nil
	})

	// Zero is a valid command id, not a free-slot marker.
	if !m.CheckState(0) {
		t.Fatal("CheckState(0) should pass on an idle machine")
	}
	m.Accept(0, models.CmdSendInfo, nil, nil)

	if calls != 1 {
		t.Errorf("Handler ran %d times for id 0, want 1", calls)
	}
	if len(*events) != 2 {
		t.Fatalf("Got %d events for id 0, want ACCEPTED + outcome", len(*events))
	}
	if (*events)[0].kind != models.EventAccepted || (*events)[0].commandID != 0 {
		t.Errorf("First event should be ACCEPTED for id 0, got %+v", (*events)[0])
	}

	// Re-delivery of id 0 is deduplicated like any other id.
	m.Accept(0, models.CmdSendInfo, nil, nil)
	if calls != 1 {
		t.Errorf("Re-delivered id 0 ran the handler %d times, want 1", calls)
	}
}

func TestDifferentCommandRefusedWhileInFlight(t *testing.T) {
	m, _ := newTestMachine()

	m.SetHandler(models.CmdSendInfo, func(cmd *Command) (Result, error) {
		// Reentrant delivery of a different id while this one runs.
		if m.CheckState(99) {
			t.Error("CheckState(99) should fail while id 7 is in flight")
		}
		if !m.CheckState(7) {
			t.Error("CheckState(7) should pass for the in-flight id")
		}
		return Result{Source: models.SourceConnect}, nil
	})

	m.Accept(7, models.CmdSendInfo, nil, nil)

	// Slot freed after resolution, a new id is acceptable again.
	if !m.CheckState(99) {
		t.Error("CheckState(99) should pass once id 7 resolved")
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	m, events := newTestMachine()

	m.Accept(3, models.CommandName("FLY_TO_MOON"), nil, nil)

	if len(*events) != 2 {
		t.Fatalf("Got %d events, want ACCEPTED + REJECTED", len(*events))
	}
	rejected := (*events)[1]
	if rejected.kind != models.EventRejected || rejected.commandID != 3 {
		t.Errorf("Expected REJECTED for id 3, got %+v", rejected)
	}
	if rejected.reason == "" {
		t.Error("REJECTED must carry a reason")
	}

	// The slot is freed even after a rejection.
	if !m.CheckState(4) {
		t.Error("Slot should be free after the rejection")
	}
}

func TestHandlerFailureRejectsAndFreesSlot(t *testing.T) {
	m, events := newTestMachine()

	m.SetHandler(models.CmdDeleteFile, func(cmd *Command) (Result, error) {
		return Result{}, errors.New("file does not exist: /missing")
	})

	m.Accept(5, models.CmdDeleteFile, []any{"/missing"}, nil)

	rejected := (*events)[len(*events)-1]
	if rejected.kind != models.EventRejected {
		t.Fatalf("Expected REJECTED, got %+v", rejected)
	}
	if rejected.reason != "file does not exist: /missing" {
		t.Errorf("Unexpected reason %q", rejected.reason)
	}
	if !m.CheckState(6) {
		t.Error("Slot should be free after a handler failure")
	}
}

func TestResultDefaults(t *testing.T) {
	m, events := newTestMachine()

	m.SetHandler(models.CmdStopDownload, func(cmd *Command) (Result, error) {
		return Result{Source: models.SourceConnect}, nil
	})
	m.Accept(8, models.CmdStopDownload, nil, nil)

	outcome := (*events)[len(*events)-1]
	if outcome.kind != models.EventFinished {
		t.Errorf("Outcome kind should default to FINISHED, got %s", outcome.kind)
	}
}

func TestHandlerReceivesArguments(t *testing.T) {
	m, _ := newTestMachine()

	var got *Command
	m.SetHandler(models.CmdGCode, func(cmd *Command) (Result, error) {
		got = cmd
		return Result{Source: models.SourceConnect}, nil
	})

	m.Accept(11, models.CmdGCode, []any{"G28"}, map[string]any{"force": true})

	if got == nil {
		t.Fatal("Handler did not run")
	}
	if got.ID != 11 || len(got.Args) != 1 || got.Args[0] != "G28" {
		t.Errorf("Unexpected command %+v", got)
	}
	if force, _ := got.Kwargs["force"].(bool); !force {
		t.Error("force kwarg lost")
	}
}
