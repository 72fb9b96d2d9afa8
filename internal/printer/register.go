package printer

import (
	"fmt"
	"net/http"

	"connect-agent/internal/health"
	"connect-agent/pkg/models"
)

// registerPayload is the body of POST /p/register.
type registerPayload struct {
	SerialNumber string `json:"sn"`
	Fingerprint  string `json:"fingerprint"`
	PrinterType  int    `json:"printer_type"`
	Version      int    `json:"version"`
	Subversion   int    `json:"subversion"`
	Firmware     string `json:"firmware"`
}

// Register starts the two-step handshake: it obtains a temporary code
// from the service and queues a poll for the token. The code is
// returned so it can be shown to the user, who confirms the device in
// the service UI; the token arrives later through the poll.
//
// Register is safe to call from any goroutine. All subsequent polling
// runs on the network thread through the queue.
func (p *Printer) Register() (string, error) {
	if p.conn.Server() == "" {
		return "", ErrServerNotSet
	}

	p.mu.Lock()
	payload := registerPayload{
		SerialNumber: p.serial,
		Fingerprint:  p.conn.Fingerprint(),
		PrinterType:  p.printerType.Type,
		Version:      p.printerType.Version,
		Subversion:   p.printerType.Subversion,
		Firmware:     p.firmware,
	}
	p.mu.Unlock()

	resp, err := p.conn.PostRegister(payload)
	if err != nil {
		p.requestFailed(err)
		return "", fmt.Errorf("registration failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		code := resp.Header.Get("Temporary-Code")
		p.queue.Push(models.NewRegistrationPoll(code))
		p.health.Set(health.API, true)
		p.log.WithField("code", code).Info("Registration started")
		return code, nil
	}

	p.health.Set(health.API, false)
	if resp.StatusCode >= http.StatusInternalServerError {
		p.health.Set(health.Transport, false)
	}
	body, _ := readBody(resp)
	return "", fmt.Errorf("registration returned status %d: %s", resp.StatusCode, body)
}
