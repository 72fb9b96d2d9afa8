package printer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"connect-agent/pkg/models"
)

// commandPayload is the JSON body of an embedded command.
type commandPayload struct {
	Command string         `json:"command"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
}

// parseCommand inspects a telemetry or registration response for an
// embedded command. A 200 must carry a valid integer Command-Id and a
// known content type; every protocol violation becomes a REJECTED
// event and the loop moves on.
func (p *Printer) parseCommand(resp *http.Response) {
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return
	default:
		p.log.WithField("status", resp.StatusCode).Info("Unexpected telemetry response")
		return
	}

	rawID := resp.Header.Get("Command-Id")
	commandID, err := strconv.Atoi(rawID)
	if err != nil {
		p.log.WithField("Command-Id", rawID).Error("Invalid Command-Id header")
		p.commandEvent(models.EventRejected, models.SourceConnect, 0,
			"Invalid Command-Id header", nil)
		return
	}

	if !p.IsInitialised() {
		p.commandEvent(models.EventRejected, models.SourceWUI, commandID,
			notInitialisedMsg, nil)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		body, err := readBody(resp)
		if err != nil {
			p.commandEvent(models.EventRejected, models.SourceConnect, commandID,
				err.Error(), nil)
			return
		}
		var payload commandPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			p.commandEvent(models.EventRejected, models.SourceConnect, commandID,
				err.Error(), nil)
			return
		}
		p.acceptCommand(commandID, models.CommandName(payload.Command),
			payload.Args, payload.Kwargs)

	case contentType == "text/x.gcode":
		body, err := readBody(resp)
		if err != nil {
			p.commandEvent(models.EventRejected, models.SourceConnect, commandID,
				err.Error(), nil)
			return
		}
		kwargs := map[string]any{
			"force": resp.Header.Get("Force") == "1",
		}
		p.acceptCommand(commandID, models.CmdGCode, []any{string(body)}, kwargs)

	default:
		p.commandEvent(models.EventRejected, models.SourceConnect, commandID,
			"Invalid command content type", nil)
	}
}

// acceptCommand hands a decoded command to the state machine if the
// slot allows it.
func (p *Printer) acceptCommand(id int, name models.CommandName, args []any, kwargs map[string]any) {
	if !p.machine.CheckState(id) {
		p.commandEvent(models.EventRejected, models.SourceConnect, id,
			"Another command is running", nil)
		return
	}
	p.machine.Accept(id, name, args, kwargs)
}
