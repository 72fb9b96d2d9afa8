package printer

import (
	"io"
	"net/http"
	"time"

	"connect-agent/internal/health"
	"connect-agent/internal/transport"
	"connect-agent/pkg/models"
)

// registrationPollPause is the pause after a pending registration
// answer, so the loop does not hammer the endpoint while re-queueing
// the same poll.
const registrationPollPause = time.Second

// maxResponseBody bounds how much of a command response is read.
const maxResponseBody = 1 << 20

// Loop drains the outbound queue until StopLoop is called. It is meant
// to run on one dedicated goroutine, which is the sole reader of the
// queue and the sole writer of HTTP state. Failures of a single item
// never terminate the loop; they only flip health flags.
func (p *Printer) Loop() {
	p.running.Store(true)
	p.log.Info("Dispatch loop started")
	for p.running.Load() {
		item, ok := p.queue.Pop(models.TimestampPrecision)
		if !ok {
			continue
		}
		if p.conn.Server() == "" {
			// Misconfiguration must not buffer traffic forever.
			p.log.Warn("Server is not set, skipping item from queue")
			continue
		}
		p.dispatch(item)
	}
	p.log.Info("Dispatch loop stopped")
}

// StopLoop makes Loop return after its current iteration. An in-flight
// HTTP call runs to its per-request timeout; there is no hard
// cancellation.
func (p *Printer) StopLoop() {
	p.running.Store(false)
}

// dispatch sends one queue item. Every failure path ends here: flags
// are updated and the item is dropped, item-level retry is never
// attempted.
func (p *Printer) dispatch(item models.QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("Unhandled dispatch failure: %v", r)
			p.health.Set(health.Internet, false)
		}
	}()

	switch v := item.(type) {
	case models.Telemetry:
		if !p.conn.HasToken() {
			p.log.Debug("Telemetry not sent, token is not set")
			return
		}
		resp, err := p.conn.PostTelemetry(v.Timestamp, v.Payload())
		if err != nil {
			p.requestFailed(err)
			return
		}
		defer resp.Body.Close()
		p.parseCommand(resp)
		p.updateFlags(resp.StatusCode)

	case models.Event:
		if !p.conn.HasToken() {
			p.log.WithField("event", v.Kind).Debug("Event not sent, token is not set")
			return
		}
		resp, err := p.conn.PostEvent(v.Timestamp, v.Payload())
		if err != nil {
			p.requestFailed(err)
			return
		}
		resp.Body.Close()
		p.updateFlags(resp.StatusCode)

	case models.RegistrationPoll:
		p.pollRegistration(v)
	}
}

// pollRegistration asks once whether the pending registration was
// confirmed. A pending answer re-queues the poll until the code's
// deadline; an expired poll is dropped silently.
func (p *Printer) pollRegistration(poll models.RegistrationPoll) {
	resp, err := p.conn.GetRegister(poll.Code)
	if err != nil {
		p.requestFailed(err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		token := resp.Header.Get("Token")
		p.conn.SetToken(token)
		p.health.Set(health.Token, true)
		p.log.Info("New token was set")
		// Intentionally synchronous: registration is rare and
		// user-driven, and the callback may need an ordered view of
		// the channel.
		p.RegisterHandler(token)
	case resp.StatusCode == http.StatusAccepted && !poll.Expired():
		p.queue.Push(poll)
		time.Sleep(registrationPollPause)
	case resp.StatusCode == http.StatusAccepted:
		p.log.WithField("code", poll.Code).Debug("Registration code expired, dropping poll")
	}
	p.updateFlags(resp.StatusCode)
}

// updateFlags applies the uniform post-exchange flag rules: any
// completed exchange proves API health unless the status says
// otherwise, and a 401 additionally invalidates the token.
func (p *Printer) updateFlags(status int) {
	p.health.Set(health.API, status < 400)
	if status == http.StatusUnauthorized {
		p.health.Set(health.Token, false)
	}
}

// requestFailed routes a failed exchange to the right health flag.
func (p *Printer) requestFailed(err error) {
	if transport.IsConnectionError(err) {
		p.health.Set(health.Transport, false)
	} else {
		p.health.Set(health.Internet, false)
	}
	p.log.WithError(err).Error("Request failed")
}

// readBody reads a bounded amount of the response body.
func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
}
