package models

// State is the printer state reported in telemetry and STATE_CHANGED events.
type State string

const (
	StateReady     State = "READY"
	StateBusy      State = "BUSY"
	StatePrinting  State = "PRINTING"
	StatePaused    State = "PAUSED"
	StateFinished  State = "FINISHED"
	StateStopped   State = "STOPPED"
	StateError     State = "ERROR"
	StateAttention State = "ATTENTION"
	StatePrepared  State = "PREPARED"
)

// EventKind identifies what an Event is about.
type EventKind string

const (
	EventAccepted EventKind = "ACCEPTED"
	EventRejected EventKind = "REJECTED"
	EventFinished EventKind = "FINISHED"
	EventFailed   EventKind = "FAILED"

	EventInfo         EventKind = "INFO"
	EventStateChanged EventKind = "STATE_CHANGED"

	EventMediumEjected  EventKind = "MEDIUM_EJECTED"
	EventMediumInserted EventKind = "MEDIUM_INSERTED"
	EventFileChanged    EventKind = "FILE_CHANGED"
	EventFileInfo       EventKind = "FILE_INFO"
	EventDownloadInfo   EventKind = "DOWNLOAD_INFO"
)

// Source is the initiator of an event or state change.
type Source string

const (
	SourceConnect  Source = "CONNECT"
	SourceGUI      Source = "GUI"
	SourceWUI      Source = "WUI"
	SourceSerial   Source = "SERIAL"
	SourceGCode    Source = "GCODE"
	SourceMarlin   Source = "MARLIN"
	SourceFirmware Source = "FIRMWARE"
	SourceHW       Source = "HW"
)

// CommandName is the closed vocabulary of remote commands the service
// may embed in a telemetry response. Handlers are registered per name;
// an unregistered name is a defined protocol error, not a crash.
type CommandName string

const (
	CmdSendInfo CommandName = "SEND_INFO"
	CmdGCode    CommandName = "GCODE"

	CmdStartPrint  CommandName = "START_PRINT"
	CmdStopPrint   CommandName = "STOP_PRINT"
	CmdPausePrint  CommandName = "PAUSE_PRINT"
	CmdResumePrint CommandName = "RESUME_PRINT"

	CmdSendFileInfo    CommandName = "SEND_FILE_INFO"
	CmdCreateDirectory CommandName = "CREATE_DIRECTORY"
	CmdDeleteFile      CommandName = "DELETE_FILE"
	CmdDeleteDirectory CommandName = "DELETE_DIRECTORY"

	CmdStartDownload    CommandName = "START_DOWNLOAD"
	CmdStopDownload     CommandName = "STOP_DOWNLOAD"
	CmdSendDownloadInfo CommandName = "SEND_DOWNLOAD_INFO"

	CmdSetPrinterPrepared CommandName = "SET_PRINTER_PREPARED"
)

// PrinterType carries the (type, version, subversion) triple reported
// during registration and in SEND_INFO replies.
type PrinterType struct {
	Type       int
	Version    int
	Subversion int
}

// Known printer models.
var (
	PrinterTypeI3MK3  = PrinterType{1, 3, 0}
	PrinterTypeI3MK3S = PrinterType{1, 3, 1}
	PrinterTypeSL1    = PrinterType{5, 1, 0}
)
