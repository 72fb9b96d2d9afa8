package printer

import (
	"errors"
	"testing"
	"time"

	"connect-agent/internal/filetree"
	"connect-agent/internal/health"
	"connect-agent/internal/transport"
	"connect-agent/pkg/models"
)

func newTestPrinterConn(server string) *transport.Connection {
	return transport.NewConnection(server, "fp-test")
}

func newTestTree(t *testing.T) *filetree.DirTree {
	t.Helper()
	return filetree.NewDirTree(t.TempDir())
}

func newTestPrinter(t *testing.T, server string) (*Printer, *health.Registry) {
	t.Helper()
	conn := newTestPrinterConn(server)
	registry := health.NewRegistry()
	tree := newTestTree(t)

	p := NewPrinter(conn, registry, tree, nil)
	if err := p.SetSerialNumber("SN123456"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetPrinterType(models.PrinterTypeI3MK3S); err != nil {
		t.Fatal(err)
	}
	return p, registry
}

func popEvent(t *testing.T, p *Printer) models.Event {
	t.Helper()
	item, ok := p.queue.Pop(10 * time.Millisecond)
	if !ok {
		t.Fatal("Expected a queued event")
	}
	event, ok := item.(models.Event)
	if !ok {
		t.Fatalf("Expected an event, got %#v", item)
	}
	return event
}

func TestIdentityWriteOnce(t *testing.T) {
	t.Parallel()

	p, _ := newTestPrinter(t, "http://server")

	if err := p.SetSerialNumber("SN999"); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("Second SetSerialNumber returned %v, want ErrAlreadySet", err)
	}
	if err := p.SetPrinterType(models.PrinterTypeSL1); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("Second SetPrinterType returned %v, want ErrAlreadySet", err)
	}
	if err := p.SetFingerprint("other"); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("Second SetFingerprint returned %v, want ErrAlreadySet", err)
	}
	if p.SerialNumber() != "SN123456" {
		t.Error("Failed second set must not change the value")
	}
}

func TestIsInitialised(t *testing.T) {
	t.Parallel()

	conn := transport.NewConnection("http://server", "")
	p := NewPrinter(conn, health.NewRegistry(), filetree.NewDirTree(t.TempDir()), nil)
	if p.IsInitialised() {
		t.Error("Printer without identity must not be initialised")
	}

	p.SetSerialNumber("SN1")
	p.SetFingerprint("fp")
	if p.IsInitialised() {
		t.Error("Still missing the printer type")
	}
	p.SetPrinterType(models.PrinterTypeI3MK3)
	if !p.IsInitialised() {
		t.Error("Complete identity triple should be initialised")
	}
}

func TestProducersDropWithoutToken(t *testing.T) {
	t.Parallel()

	p, _ := newTestPrinter(t, "http://server")

	p.Telemetry(models.StateReady, nil)
	p.Event(models.EventInfo, models.SourceConnect, nil)
	boolPtr := true
	p.SetState(models.StateReady, models.SourceGUI, &boolPtr)

	if got := p.queue.Len(); got != 0 {
		t.Errorf("Queue has %d items without a token, want 0", got)
	}
}

func TestSetState(t *testing.T) {
	t.Parallel()

	p, _ := newTestPrinter(t, "http://server")
	p.SetToken("secret")

	checked := true
	p.SetState(models.StateReady, models.SourceGUI, &checked)
	event := popEvent(t, p)
	if event.Kind != models.EventStateChanged {
		t.Fatalf("Expected STATE_CHANGED, got %s", event.Kind)
	}
	if event.Data["state"] != "READY" || event.Data["checked"] != true {
		t.Errorf("Unexpected event data %v", event.Data)
	}
	if !p.Checked() {
		t.Error("Checked flag should be set")
	}

	// PRINTING always clears the ready confirmation.
	p.SetState(models.StatePrinting, models.SourceMarlin, &checked)
	event = popEvent(t, p)
	if event.Data["checked"] != false {
		t.Error("Entering PRINTING must clear checked")
	}
	if p.State() != models.StatePrinting {
		t.Errorf("State = %s", p.State())
	}
}

func TestTelemetryCarriesJobID(t *testing.T) {
	t.Parallel()

	p, _ := newTestPrinter(t, "http://server")
	p.SetToken("secret")
	p.SetJobID(42)

	p.Telemetry(models.StatePrinting, map[string]any{"temp_nozzle": 215.0})
	item, ok := p.queue.Pop(10 * time.Millisecond)
	if !ok {
		t.Fatal("Expected a sample")
	}
	sample := item.(models.Telemetry)
	if sample.JobID != 42 {
		t.Errorf("JobID = %d, want 42", sample.JobID)
	}

	payload := sample.Payload()
	if payload["state"] != "PRINTING" || payload["temp_nozzle"] != 215.0 {
		t.Errorf("Unexpected payload %v", payload)
	}
	if payload["job_id"] != 42 {
		t.Errorf("job_id missing from payload: %v", payload)
	}
}

func TestUninitialisedTelemetryIsBare(t *testing.T) {
	t.Parallel()

	conn := transport.NewConnection("http://server", "fp")
	p := NewPrinter(conn, health.NewRegistry(), filetree.NewDirTree(t.TempDir()), nil)
	p.SetToken("secret")

	p.Telemetry(models.StateBusy, map[string]any{"temp_bed": 60.0})
	item, _ := p.queue.Pop(10 * time.Millisecond)
	sample := item.(models.Telemetry)
	if _, ok := sample.Payload()["temp_bed"]; ok {
		t.Error("Uninitialised printer must send the bare state only")
	}
}
