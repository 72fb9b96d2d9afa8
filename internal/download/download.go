// Package download owns the single in-flight file transfer. At most
// one job exists at a time; starting a second one while a transfer is
// running is rejected, not queued. The transfer streams on its own
// goroutine so the network thread is never blocked, resuming with HTTP
// Range requests under exponential backoff when the connection drops.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"connect-agent/internal/filetree"
	"connect-agent/pkg/models"
)

// State of a download job.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateStopped    State = "STOPPED"
	StateFinished   State = "FINISHED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFinished || s == StateFailed
}

// ErrDownloadRunning is returned by Start while a transfer is active.
var ErrDownloadRunning = errors.New("another download is in progress")

// maxResumeTries bounds how many times an interrupted transfer is
// resumed before the job fails.
const maxResumeTries = 3

// Job is one download. Byte counters are atomic because the network
// thread reads them for progress and telemetry while the transfer
// goroutine writes them.
type Job struct {
	URL         string
	Destination string
	ToSelect    bool
	ToPrint     bool

	start      time.Time
	downloaded atomic.Int64
	total      atomic.Int64

	mu    sync.Mutex
	state State
}

// State returns the current job state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// transition moves to a new state unless a terminal one was already
// reached, so a Stop is never overwritten by the failing transfer it
// interrupted.
func (j *Job) transition(to State) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = to
	return true
}

// Downloaded returns the bytes transferred so far.
func (j *Job) Downloaded() int64 {
	return j.downloaded.Load()
}

// Total returns the expected size, 0 while unknown.
func (j *Job) Total() int64 {
	return j.total.Load()
}

// Progress returns completion in [0,1]; ok is false while the total
// size is unknown.
func (j *Job) Progress() (float64, bool) {
	total := j.total.Load()
	if total <= 0 {
		return 0, false
	}
	progress := float64(j.downloaded.Load()) / float64(total)
	if progress > 1 {
		progress = 1
	}
	return progress, true
}

// TimeRemaining estimates remaining transfer time from the observed
// average throughput; ok is false before any byte arrived or while the
// total is unknown.
func (j *Job) TimeRemaining() (time.Duration, bool) {
	downloaded := j.downloaded.Load()
	total := j.total.Load()
	if downloaded <= 0 || total <= 0 {
		return 0, false
	}
	elapsed := time.Since(j.start)
	if elapsed <= 0 {
		return 0, false
	}
	rate := float64(downloaded) / elapsed.Seconds()
	remaining := float64(total-downloaded) / rate
	return time.Duration(remaining * float64(time.Second)), true
}

// EventFunc reports download failures back to the queue.
type EventFunc func(kind models.EventKind, source models.Source, reason string, data map[string]any)

// Manager owns the single download slot.
type Manager struct {
	client *http.Client
	tree   filetree.Provider
	emit   EventFunc
	log    *logrus.Entry

	// Follow-ups run after a finished transfer when the job asks for
	// them. Either may be nil.
	SelectCallback func(path string)
	PrintCallback  func(path string) error

	// KeepPartial keeps the .part file of a stopped or failed transfer
	// on disk instead of deleting it.
	KeepPartial bool

	mu      sync.Mutex
	current *Job
	cancel  context.CancelFunc
}

// NewManager creates a manager registering finished files with tree
// and reporting failures through emit.
func NewManager(tree filetree.Provider, emit EventFunc) *Manager {
	return &Manager{
		// Downloads are long; the per-request timeout of the command
		// channel does not apply here, cancellation is via context.
		client: &http.Client{},
		tree:   tree,
		emit:   emit,
		log:    logrus.WithField("component", "download"),
	}
}

// Start begins downloading url to the virtual destination path. It
// fails with ErrDownloadRunning while another transfer is active; a
// job in a terminal state is replaced.
func (m *Manager) Start(url, destination string, toSelect, toPrint bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.State().Terminal() {
		return ErrDownloadRunning
	}

	job := &Job{
		URL:         url,
		Destination: destination,
		ToSelect:    toSelect,
		ToPrint:     toPrint,
		start:       time.Now(),
		state:       StatePending,
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.current = job
	m.cancel = cancel

	m.log.WithFields(logrus.Fields{
		"url":         url,
		"destination": destination,
	}).Info("Starting download")
	go m.run(ctx, job)
	return nil
}

// Stop cancels the active transfer, if any, and applies the partial
// file cleanup policy.
func (m *Manager) Stop() {
	m.mu.Lock()
	job := m.current
	cancel := m.cancel
	m.mu.Unlock()

	if job == nil {
		return
	}
	if job.transition(StateStopped) {
		m.log.WithField("url", job.URL).Info("Download stopped")
	}
	if cancel != nil {
		cancel()
	}
}

// Current returns the job occupying the slot, or nil.
func (m *Manager) Current() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Info answers a download-info query. Progress and time_remaining stay
// nil while undefined and are filtered out at serialization.
func (m *Manager) Info() map[string]any {
	job := m.Current()
	if job == nil {
		return map[string]any{"state": nil}
	}
	info := map[string]any{
		"state":       string(job.State()),
		"destination": job.Destination,
		"downloaded":  job.Downloaded(),
	}
	if progress, ok := job.Progress(); ok {
		info["progress"] = progress
	}
	if remaining, ok := job.TimeRemaining(); ok {
		info["time_remaining"] = int(remaining.Seconds())
	}
	return info
}

// run drives one transfer to a terminal state. Errors never escape:
// they become a FAILED job plus a failure event.
func (m *Manager) run(ctx context.Context, job *Job) {
	err := m.transfer(ctx, job)
	if err == nil {
		return
	}

	if job.State() == StateStopped {
		// Cancelled by Stop; the cleanup policy was already applied.
		return
	}
	job.transition(StateFailed)
	m.log.WithField("url", job.URL).WithError(err).Error("Download failed")
	m.emit(models.EventFailed, models.SourceConnect, err.Error(), map[string]any{
		"url":  job.URL,
		"path": job.Destination,
	})
}

func (m *Manager) transfer(ctx context.Context, job *Job) error {
	osPath, err := m.tree.OSPath(job.Destination)
	if err != nil {
		return fmt.Errorf("invalid destination %q: %w", job.Destination, err)
	}
	partPath := osPath + ".part"

	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partPath, err)
	}

	fetch := func() error {
		if err := m.fetch(ctx, job, file); err != nil {
			m.log.WithField("url", job.URL).WithError(err).Warn("Transfer interrupted")
			return err
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxResumeTries), ctx)
	err = backoff.Retry(fetch, policy)

	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if !m.KeepPartial {
			os.Remove(partPath)
		}
		return err
	}

	if err := os.Rename(partPath, osPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	job.transition(StateFinished)
	m.tree.Register(job.Destination, job.Downloaded())
	m.log.WithFields(logrus.Fields{
		"destination": job.Destination,
		"bytes":       job.Downloaded(),
	}).Info("Download finished")

	if job.ToSelect && m.SelectCallback != nil {
		m.SelectCallback(job.Destination)
	}
	if job.ToPrint && m.PrintCallback != nil {
		if err := m.PrintCallback(job.Destination); err != nil {
			m.emit(models.EventFailed, models.SourceConnect, err.Error(), map[string]any{
				"path": job.Destination,
			})
		}
	}
	return nil
}

// fetch performs one HTTP attempt, resuming from the current byte
// offset with a Range request.
func (m *Manager) fetch(ctx context.Context, job *Job, file *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	offset := job.Downloaded()
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the Range header, start over.
		if offset > 0 {
			if err := file.Truncate(0); err != nil {
				return backoff.Permanent(err)
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(err)
			}
			job.downloaded.Store(0)
		}
		if resp.ContentLength > 0 {
			job.total.Store(resp.ContentLength)
		}
	case http.StatusPartialContent:
		if total := contentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
			job.total.Store(total)
		} else if resp.ContentLength > 0 {
			job.total.Store(offset + resp.ContentLength)
		}
	default:
		return backoff.Permanent(fmt.Errorf("download returned status %d", resp.StatusCode))
	}

	job.transition(StateInProgress)

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return backoff.Permanent(writeErr)
			}
			job.downloaded.Add(int64(n))
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return readErr
		}
	}
}

// contentRangeTotal extracts the total size from a Content-Range
// header like "bytes 100-999/1000".
func contentRangeTotal(value string) int64 {
	idx := strings.LastIndex(value, "/")
	if idx < 0 {
		return 0
	}
	total, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return total
}
