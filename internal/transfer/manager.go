// Package transfer runs independent uploads on a pool of workers. Each
// worker owns the upload session of the target it is working on.
package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ochronus/goboxsync/internal/app"
	"github.com/ochronus/goboxsync/internal/metrics"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/upload"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStopped is returned when targets are submitted to a stopped manager
	ErrStopped = errors.New("transfer manager stopped")
	// ErrStarted is returned when a running manager is started again
	ErrStarted = errors.New("transfer manager already started")
)

// Manager handles the upload orchestration
type Manager struct {
	uploader *upload.Uploader
	workers  int
	jobs     chan Job
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new upload manager from the container's client and settings
func NewManager(container *app.Container) *Manager {
	cfg := container.Config
	opts := upload.Options{
		Policy:  container.RetryPolicy,
		TTL:     cfg.SessionTTLDuration(),
		Logger:  container.Logger,
		Metrics: container.Metrics,
	}
	workers := cfg.UploadWorkers
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		uploader: upload.NewUploader(container.Client, cfg.ChunkSize, opts),
		workers:  workers,
		jobs:     make(chan Job, 100),
		logger:   container.Logger,
		metrics:  container.Metrics,
	}
}

// Start begins the manager's operations with a background context.
func (m *Manager) Start() error {
	return m.StartWithContext(context.Background())
}

// StartWithContext starts the upload workers using the provided parent context.
func (m *Manager) StartWithContext(ctx context.Context) error {
	if m.cancel != nil {
		return ErrStarted
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.uploadWorker(i)
	}
	return nil
}

// Stop signals all workers to exit and waits for them to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// stopped is closed once the manager stops; nil until it is started
func (m *Manager) stopped() <-chan struct{} {
	if m.ctx == nil {
		return nil
	}
	return m.ctx.Done()
}

// uploadWorker handles queued uploads one at a time
func (m *Manager) uploadWorker(id int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case job := <-m.jobs:
			m.logger.Debugf("worker %d: picked up %s", id, &job.Target)
			result := m.uploadTarget(job.Target)
			select {
			case <-m.ctx.Done():
				return
			case job.Done <- result:
			}
		}
	}
}

// UploadAll queues every target and waits for all of them. Results come
// back in target order; a target that never ran carries the stop error.
func (m *Manager) UploadAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))
	doneChans := make([]chan Result, len(targets))
	received := make([]bool, len(targets))

	for i, target := range targets {
		results[i] = Result{Target: target, Status: StatusFailed, Err: ErrStopped}
	}
	for i, target := range targets {
		done := make(chan Result, 1)
		select {
		case <-ctx.Done():
			return abandon(results, doneChans, received, ctx.Err())
		case <-m.stopped():
			return abandon(results, doneChans, received, ErrStopped)
		case m.jobs <- Job{Target: target, Done: done}:
			doneChans[i] = done
		}
	}

	for i, done := range doneChans {
		select {
		case <-ctx.Done():
			return abandon(results, doneChans, received, ctx.Err())
		case <-m.stopped():
			return abandon(results, doneChans, received, ErrStopped)
		case results[i] = <-done:
			received[i] = true
		}
	}

	failed := 0
	for _, r := range results {
		if r.Status != StatusSuccess {
			failed++
		}
	}
	if failed > 0 {
		m.logger.Warnf("%d of %d uploads failed", failed, len(results))
	} else {
		m.logger.Infof("all %d uploads done", len(results))
	}
	return results
}

// abandon collects whatever already finished and marks the rest with err
func abandon(results []Result, doneChans []chan Result, received []bool, err error) []Result {
	for i, done := range doneChans {
		if received[i] {
			continue
		}
		if done != nil {
			select {
			case r := <-done:
				results[i] = r
				continue
			default:
			}
		}
		results[i].Err = err
	}
	return results
}

// uploadTarget uploads a single local file
func (m *Manager) uploadTarget(target Target) Result {
	m.metrics.TransferStarted()
	defer m.metrics.TransferDone()
	start := time.Now()

	m.logger.Infof("%s: upload started", &target)
	commit := dropbox.CommitInfo{Path: target.Remote, Mode: target.Mode}
	md, err := m.uploader.UploadFile(m.ctx, target.Local, commit)
	if err != nil {
		m.logger.Errorf("%s: upload failed: %v", &target, err)
		return Result{Target: target, Status: StatusFailed, Err: err, Duration: time.Since(start)}
	}
	m.logger.Infof("%s: upload succeeded (rev %s)", &target, md.Rev)
	return Result{Target: target, Status: StatusSuccess, Metadata: md, Duration: time.Since(start)}
}
