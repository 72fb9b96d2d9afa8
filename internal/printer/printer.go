// Package printer is the engine keeping the device connected to the
// print-management service. It owns the outbound queue and the
// dispatch loop, the command state machine, the download slot and the
// registration handshake. Producers on any goroutine push events and
// telemetry; one network goroutine running Loop drains them.
package printer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"connect-agent/internal/command"
	"connect-agent/internal/download"
	"connect-agent/internal/filetree"
	"connect-agent/internal/health"
	"connect-agent/internal/queue"
	"connect-agent/internal/transport"
	"connect-agent/pkg/models"
)

// agentVersion is reported to the service in SEND_INFO replies.
const agentVersion = "1.0.0"

// notInitialisedMsg is the fixed rejection reason used while the
// identity triple is incomplete.
const notInitialisedMsg = "Printer has not been initialized properly"

// Configuration errors.
var (
	// ErrServerNotSet is returned when an operation needs the service
	// base URL and none is configured.
	ErrServerNotSet = errors.New("server is not set")
	// ErrAlreadySet is returned when a write-once identity field is
	// assigned a second time.
	ErrAlreadySet = errors.New("identity field is already set")
)

// RegisterCallback is invoked on the network thread when the
// registration handshake completes. It blocks the dispatch loop until
// it returns; long work must be handed off by the callback itself.
type RegisterCallback func(token string)

// NetworkInfo is the device network description sent in SEND_INFO.
type NetworkInfo struct {
	LanMAC   string `json:"lan_mac,omitempty"`
	LanIPv4  string `json:"lan_ipv4,omitempty"`
	WifiMAC  string `json:"wifi_mac,omitempty"`
	WifiIPv4 string `json:"wifi_ipv4,omitempty"`
	WifiSSID string `json:"wifi_ssid,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

// Printer ties the engine together. Identity fields are write-once;
// state, job id and the checked flag are guarded by the mutex because
// producers and the network thread both touch them.
type Printer struct {
	log *logrus.Entry

	queue     *queue.Queue
	conn      *transport.Connection
	health    *health.Registry
	machine   *command.Machine
	downloads *download.Manager
	tree      filetree.Provider
	meta      filetree.MetadataExtractor

	// RegisterHandler is called with the new token when registration
	// completes. Defaults to a no-op.
	RegisterHandler RegisterCallback

	mu          sync.Mutex
	serial      string
	printerType models.PrinterType
	firmware    string
	network     NetworkInfo
	state       models.State
	checked     bool
	jobID       int

	running atomic.Bool
}

// NewPrinter assembles the engine around an established connection and
// a shared health registry. The file-tree provider and metadata
// extractor are the external collaborators used by file commands.
func NewPrinter(conn *transport.Connection, registry *health.Registry,
	tree filetree.Provider, meta filetree.MetadataExtractor) *Printer {

	p := &Printer{
		log:             logrus.WithField("component", "printer"),
		queue:           queue.New(),
		conn:            conn,
		health:          registry,
		tree:            tree,
		meta:            meta,
		state:           models.StateBusy,
		RegisterHandler: func(string) {},
	}

	p.machine = command.NewMachine(p.commandEvent)
	p.downloads = download.NewManager(tree, p.downloadEvent)

	p.machine.SetHandler(models.CmdSendInfo, p.sendInfo)
	p.machine.SetHandler(models.CmdSendFileInfo, p.sendFileInfo)
	p.machine.SetHandler(models.CmdCreateDirectory, p.createDirectory)
	p.machine.SetHandler(models.CmdDeleteFile, p.deleteFile)
	p.machine.SetHandler(models.CmdDeleteDirectory, p.deleteDirectory)
	p.machine.SetHandler(models.CmdStartDownload, p.downloadStart)
	p.machine.SetHandler(models.CmdStopDownload, p.downloadStop)
	p.machine.SetHandler(models.CmdSendDownloadInfo, p.downloadInfo)
	p.machine.SetHandler(models.CmdSetPrinterPrepared, p.setPrinterPrepared)

	return p
}

// SetHandler binds a device-side handler to a command name. START_PRINT
// and friends are expected to be bound by the firmware integration.
func (p *Printer) SetHandler(name models.CommandName, handler command.Handler) {
	p.machine.SetHandler(name, handler)
}

// Downloads exposes the download slot.
func (p *Printer) Downloads() *download.Manager {
	return p.downloads
}

// SetSerialNumber sets the device serial number, once.
func (p *Printer) SetSerialNumber(serial string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.serial != "" {
		return fmt.Errorf("serial number: %w", ErrAlreadySet)
	}
	p.serial = serial
	return nil
}

// SetFingerprint sets the client-generated identifier, once.
func (p *Printer) SetFingerprint(fingerprint string) error {
	if p.conn.Fingerprint() != "" {
		return fmt.Errorf("fingerprint: %w", ErrAlreadySet)
	}
	p.conn.SetFingerprint(fingerprint)
	return nil
}

// SetPrinterType sets the printer model triple, once.
func (p *Printer) SetPrinterType(t models.PrinterType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printerType != (models.PrinterType{}) {
		return fmt.Errorf("printer type: %w", ErrAlreadySet)
	}
	p.printerType = t
	return nil
}

// SetFirmware records the firmware version string. Unlike the identity
// triple it may change across firmware updates.
func (p *Printer) SetFirmware(firmware string) {
	p.mu.Lock()
	p.firmware = firmware
	p.mu.Unlock()
}

// SetNetworkInfo records the network description for SEND_INFO.
func (p *Printer) SetNetworkInfo(info NetworkInfo) {
	p.mu.Lock()
	p.network = info
	p.mu.Unlock()
}

// SetToken installs a known token, for devices registered out of band.
func (p *Printer) SetToken(token string) {
	p.conn.SetToken(token)
	p.health.Set(health.Token, true)
}

// SetJobID attaches a print job id to all subsequent events and
// telemetry; zero detaches it.
func (p *Printer) SetJobID(id int) {
	p.mu.Lock()
	p.jobID = id
	p.mu.Unlock()
}

// SerialNumber returns the device serial number, empty while unset.
func (p *Printer) SerialNumber() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serial
}

// State returns the current printer state.
func (p *Printer) State() models.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Checked reports the user "ready to print" confirmation flag.
func (p *Printer) Checked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checked
}

// IsInitialised reports whether the identity triple is complete.
func (p *Printer) IsInitialised() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serial != "" && p.printerType != (models.PrinterType{}) &&
		p.conn.Fingerprint() != ""
}

// SetState records a new printer state and queues a STATE_CHANGED
// event. Entering PRINTING always clears the checked flag; for other
// states checked is updated when a value is supplied.
func (p *Printer) SetState(state models.State, source models.Source, checked *bool) {
	p.mu.Lock()
	if state == models.StatePrinting {
		p.checked = false
	} else if checked != nil {
		p.checked = *checked
	}
	p.state = state
	confirmed := p.checked
	p.mu.Unlock()

	p.Event(models.EventStateChanged, source, map[string]any{
		"state":   string(state),
		"checked": confirmed,
	})
}

// Event queues an event for delivery. Without a token the event is
// dropped: there is nobody to deliver it to.
func (p *Printer) Event(kind models.EventKind, source models.Source, data map[string]any) {
	p.pushEvent(kind, source, 0, "", data)
}

// commandEvent is the command machine's outlet back into the queue.
func (p *Printer) commandEvent(kind models.EventKind, source models.Source,
	commandID int, reason string, data map[string]any) {
	p.pushEvent(kind, source, commandID, reason, data)
}

// downloadEvent is the download manager's failure outlet.
func (p *Printer) downloadEvent(kind models.EventKind, source models.Source,
	reason string, data map[string]any) {
	p.pushEvent(kind, source, 0, reason, data)
}

func (p *Printer) pushEvent(kind models.EventKind, source models.Source,
	commandID int, reason string, data map[string]any) {
	if !p.conn.HasToken() {
		p.log.WithField("event", kind).Debug("Skipping event, no token")
		return
	}
	event := models.NewEvent(kind, source, data)
	event.CommandID = commandID
	event.Reason = reason
	p.mu.Lock()
	event.JobID = p.jobID
	p.mu.Unlock()

	if !p.IsInitialised() {
		p.log.Warn(notInitialisedMsg)
	}
	p.queue.Push(event)
}

// Telemetry queues one sample. While a download is running the sample
// carries its progress, time remaining and byte count.
func (p *Printer) Telemetry(state models.State, data map[string]any) {
	if !p.conn.HasToken() {
		p.log.Debug("Skipping telemetry, no token")
		return
	}

	if !p.IsInitialised() {
		// Identity incomplete: send the bare state so the service sees
		// the device is alive, but nothing more.
		p.log.Warn(notInitialisedMsg)
		p.queue.Push(models.NewTelemetry(state, nil))
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	if job := p.downloads.Current(); job != nil && !job.State().Terminal() {
		if progress, ok := job.Progress(); ok {
			data["download_progress"] = progress
		}
		if remaining, ok := job.TimeRemaining(); ok {
			data["download_time_remaining"] = int(remaining.Seconds())
		}
		data["download_bytes"] = job.Downloaded()
	}

	sample := models.NewTelemetry(state, data)
	p.mu.Lock()
	sample.JobID = p.jobID
	p.mu.Unlock()
	p.queue.Push(sample)
}
