package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/fetchpool/internal/fetch"
	"github.com/tanq16/fetchpool/internal/output"
	"github.com/tanq16/fetchpool/internal/utils"
)

var ErrClosed = errors.New("scheduler is closed")

// DefaultPoolSize bounds concurrent fetches, and therefore concurrent
// in-flight connections, to twice the number of CPUs.
func DefaultPoolSize() int {
	return max(2*runtime.NumCPU(), 1)
}

type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
}

// Scheduler owns a fixed pool of fetch workers fed by a bounded queue.
// Submissions return as soon as the job is queued; per-job failures are only
// visible through the sink and the tracker.
type Scheduler struct {
	outputDir string
	poolSize  int
	queueSize int
	chunkSize int
	sink      output.Sink
	tracker   *output.Manager
	client    utils.HTTPDoer
	httpCfg   utils.HTTPClientConfig
	sources   map[string]fetch.Source
	worker    *fetch.Worker
	ctx       context.Context
	cancel    context.CancelFunc

	jobCh     chan utils.Job
	workers   sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int

	filenameMu sync.Mutex
	filenames  map[string]struct{}

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

type Option func(*Scheduler)

func WithPoolSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// WithQueueSize sets how many jobs may wait for a free worker before Submit
// blocks.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.queueSize = n
		}
	}
}

func WithChunkSize(n int) Option {
	return func(s *Scheduler) {
		s.chunkSize = n
	}
}

func WithSink(sink output.Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithTracker(m *output.Manager) Option {
	return func(s *Scheduler) {
		s.tracker = m
	}
}

func WithHTTPClientConfig(cfg utils.HTTPClientConfig) Option {
	return func(s *Scheduler) {
		s.httpCfg = cfg
	}
}

// WithHTTPClient overrides the client built from the HTTP client config.
func WithHTTPClient(client utils.HTTPDoer) Option {
	return func(s *Scheduler) {
		s.client = client
	}
}

func WithSource(scheme string, src fetch.Source) Option {
	return func(s *Scheduler) {
		s.sources[scheme] = src
	}
}

// WithContext ties in-flight fetches to ctx; cancelling it fails them.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

// New prepares outputDir and starts the worker pool. It fails with a
// *utils.StorageInitError when the directory cannot be created or written.
func New(outputDir string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		outputDir: outputDir,
		poolSize:  DefaultPoolSize(),
		queueSize: -1,
		sink:      output.Nop(),
		sources:   make(map[string]fetch.Source),
		ctx:       context.Background(),
		filenames: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queueSize < 0 {
		s.queueSize = 2 * s.poolSize
	}
	if err := prepareOutputDir(outputDir); err != nil {
		return nil, err
	}

	if s.client == nil {
		s.client = utils.NewFetchHTTPClient(s.httpCfg)
	}
	workerOpts := []fetch.Option{
		fetch.WithChunkSize(s.chunkSize),
		fetch.WithIdleTimeout(s.httpCfg.Timeout),
	}
	for scheme, src := range s.sources {
		workerOpts = append(workerOpts, fetch.WithSource(scheme, src))
	}
	s.worker = fetch.NewWorker(outputDir, s.client, workerOpts...)
	s.ctx, s.cancel = context.WithCancel(s.ctx)
	s.pendingCond = sync.NewCond(&s.pendingMu)
	s.jobCh = make(chan utils.Job, s.queueSize)

	for i := range s.poolSize {
		s.workers.Add(1)
		go s.run(i)
	}
	log.Debug().Str("op", "scheduler/scheduler").Int("workers", s.poolSize).Int("queue", s.queueSize).Msgf("scheduler started for %s", outputDir)
	return s, nil
}

func prepareOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &utils.StorageInitError{Dir: dir, Err: err}
	}
	probe, err := os.CreateTemp(dir, ".fetchpool-probe-*")
	if err != nil {
		return &utils.StorageInitError{Dir: dir, Err: err}
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return &utils.StorageInitError{Dir: dir, Err: err}
	}
	return nil
}

func (s *Scheduler) PoolSize() int { return s.poolSize }

func (s *Scheduler) SubmitURL(url, filename string) error {
	return s.Submit(utils.Job{URL: url, Filename: filename})
}

// Submit queues job for asynchronous execution. It blocks only while the
// queue is full.
func (s *Scheduler) Submit(job utils.Job) error {
	return s.SubmitContext(context.Background(), job)
}

// SubmitContext is Submit but gives up with ctx.Err() if ctx ends while
// waiting for queue space.
func (s *Scheduler) SubmitContext(ctx context.Context, job utils.Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.addPending(1)
	s.submitted.Add(1)
	select {
	case s.jobCh <- job:
	case <-ctx.Done():
		s.submitted.Add(-1)
		s.addPending(-1)
		return ctx.Err()
	}
	s.checkFilename(job)
	s.record(zerolog.DebugLevel, fmt.Sprintf("[scheduler] Queued: %s; %s", job.URL, job.Filename))
	return nil
}

// Two jobs sharing a filename both run; whichever finishes last owns the file.
func (s *Scheduler) checkFilename(job utils.Job) {
	s.filenameMu.Lock()
	_, seen := s.filenames[job.Filename]
	s.filenames[job.Filename] = struct{}{}
	s.filenameMu.Unlock()
	if seen {
		s.record(zerolog.WarnLevel, fmt.Sprintf("[scheduler] Filename %s submitted more than once; the last job to finish wins (URL: %s)", job.Filename, job.URL))
	}
}

// Drain blocks until every job submitted so far has produced its outcome.
// Jobs may be submitted again afterwards.
func (s *Scheduler) Drain() {
	s.pendingMu.Lock()
	for s.pending > 0 {
		s.pendingCond.Wait()
	}
	s.pendingMu.Unlock()
}

// Close drains the queue, stops the workers and rejects further submissions.
// It is safe to call more than once.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobCh)
		s.mu.Unlock()
		s.workers.Wait()
		s.cancel()
		log.Debug().Str("op", "scheduler/scheduler").Msg("scheduler stopped")
	})
	return nil
}

// Stats loads the outcome counters before Submitted, so a snapshot never
// shows more outcomes than submissions.
func (s *Scheduler) Stats() Stats {
	succeeded := s.succeeded.Load()
	failed := s.failed.Load()
	return Stats{
		Submitted: s.submitted.Load(),
		Succeeded: succeeded,
		Failed:    failed,
	}
}

func (s *Scheduler) addPending(delta int) {
	s.pendingMu.Lock()
	s.pending += delta
	if s.pending == 0 {
		s.pendingCond.Broadcast()
	}
	s.pendingMu.Unlock()
}

// record never lets a misbehaving sink take down a worker or a submitter.
func (s *Scheduler) record(level zerolog.Level, message string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("op", "scheduler/scheduler").Msgf("sink panicked: %v; dropped record: %s", r, message)
		}
	}()
	s.sink.Record(level, message)
}

func (s *Scheduler) run(index int) {
	defer s.workers.Done()
	for job := range s.jobCh {
		s.execute(index, job)
	}
}

func (s *Scheduler) execute(index int, job utils.Job) {
	defer s.addPending(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("op", "scheduler/scheduler").Msgf("recovered panic while reporting %s: %v", job.URL, r)
		}
	}()
	executionID := fmt.Sprintf("w%d-%s", index, uuid.NewString()[:8])
	trackID := 0
	if s.tracker != nil {
		trackID = s.tracker.Register(job)
		s.tracker.Start(trackID, executionID)
	}

	outcome := utils.Outcome{ExecutionID: executionID, Job: job}
	start := time.Now()
	outcome.Bytes, outcome.Err = s.fetch(executionID, job)
	outcome.Duration = time.Since(start)

	if outcome.Err == nil {
		outcome.Status = utils.StatusSuccess
		s.succeeded.Add(1)
		s.record(zerolog.InfoLevel, fmt.Sprintf("[%s] Downloaded: %s; %s", executionID, job.URL, job.Filename))
	} else {
		outcome.Status = utils.StatusFailure
		s.failed.Add(1)
		s.record(zerolog.ErrorLevel, fmt.Sprintf("[%s] Failed. URL: %s; File: %s; Error: %s", executionID, job.URL, job.Filename, outcome.Reason()))
	}
	if s.tracker != nil {
		s.tracker.Record(trackID, outcome)
	}
}

// fetch converts a panic inside the worker into a job failure so one job can
// never take down the pool.
func (s *Scheduler) fetch(executionID string, job utils.Job) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("op", "scheduler/scheduler").Str("exec", executionID).Msgf("recovered panic: %v", r)
			err = fmt.Errorf("panic during fetch: %v", r)
		}
	}()
	return s.worker.Fetch(s.ctx, executionID, job)
}
