package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/livedoc/internal/delta"
	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/store"
)

// Defaults for Service.
const (
	DefaultWorkers       = 4
	DefaultInflightLimit = 128
)

// ErrServiceStopped is returned for work submitted after the service stops.
var ErrServiceStopped = errors.New("service stopped")

// Service hosts documents on a fixed set of executors.
//
// Each key is bound to one executor by FNV hash. An executor is a
// single-writer loop draining a FIFO task queue, so every command for a key
// runs in submission order and a Document never sees two goroutines.
//
// Thread-safety model:
//   - Create, Transact, Execute, CreatePrivateView: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Service struct {
	data      store.DataService
	factories FactoryResolver
	docOpts   []Option
	logger    *slog.Logger

	workers        int
	inflightLimit  int
	autoInvalidate bool

	mu        sync.Mutex
	inflight  map[ir.Key]int
	timers    map[ir.Key]*time.Timer
	executors []*executor
	started   bool
	stopped   bool
	done      chan struct{}
}

type executor struct {
	id    int
	queue *taskQueue
	// docs is owned by the executor goroutine.
	docs map[ir.Key]*Document
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWorkers sets the number of executors.
func WithWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithInflightLimit caps queued plus running tasks per key.
func WithInflightLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.inflightLimit = n
		}
	}
}

// WithDocumentOptions applies opts to every document the service loads.
func WithDocumentOptions(opts ...Option) ServiceOption {
	return func(s *Service) {
		s.docOpts = append(s.docOpts, opts...)
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithAutoInvalidate makes the service invalidate documents when their
// scheduled state transitions come due.
func WithAutoInvalidate(enabled bool) ServiceOption {
	return func(s *Service) {
		s.autoInvalidate = enabled
	}
}

// NewService creates a service. Document keys resolve to factories by their
// space.
func NewService(data store.DataService, factories FactoryResolver, opts ...ServiceOption) *Service {
	s := &Service{
		data:          data,
		factories:     factories,
		logger:        slog.Default(),
		workers:       DefaultWorkers,
		inflightLimit: DefaultInflightLimit,
		inflight:      make(map[ir.Key]int),
		timers:        make(map[ir.Key]*time.Timer),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.executors = make([]*executor, s.workers)
	for i := range s.executors {
		s.executors[i] = &executor{id: i, queue: newTaskQueue(), docs: make(map[ir.Key]*Document)}
	}
	return s
}

// Run starts every executor and blocks until ctx is cancelled or Stop is
// called. After Stop, executors finish the tasks already queued. After ctx
// is cancelled, queued tasks fail with ErrServiceStopped.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("service already running")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("service starting", "workers", s.workers)
	var wg sync.WaitGroup
	for _, ex := range s.executors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex.run(ctx, s.logger)
		}()
	}
	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.done:
	}
	wg.Wait()
	s.logger.Info("service stopped")
	return ctx.Err()
}

// Stop closes every queue. Run returns once executors drain.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	for _, t := range s.timers {
		t.Stop()
	}
	clear(s.timers)
	for _, ex := range s.executors {
		ex.queue.Close()
	}
}

func (ex *executor) run(ctx context.Context, logger *slog.Logger) {
	for {
		t, ok := ex.queue.TryDequeue()
		if ok {
			t.run(t.ctx)
			continue
		}
		select {
		case <-ctx.Done():
			ex.queue.Close()
			ex.drain()
			return
		case <-ex.queue.Wait():
			if ex.queue.Closed() && ex.queue.Len() == 0 {
				logger.Debug("executor stopping", "executor", ex.id)
				return
			}
		}
	}
}

// drain fails every queued task.
func (ex *executor) drain() {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		t, ok := ex.queue.TryDequeue()
		if !ok {
			return
		}
		t.run(cancelled)
	}
}

func (s *Service) executorFor(key ir.Key) *executor {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return s.executors[h.Sum32()%uint32(len(s.executors))]
}

// submit runs fn on key's executor and waits for it.
func (s *Service) submit(ctx context.Context, key ir.Key, fn func(ctx context.Context, ex *executor) error) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServiceStopped
	}
	if s.inflight[key] >= s.inflightLimit {
		s.mu.Unlock()
		return newError(KindCapacity, CodeTooManyInflight, "too many in-flight commands for %s", key)
	}
	s.inflight[key]++
	s.mu.Unlock()

	ex := s.executorFor(key)
	done := make(chan error, 1)
	queued := ex.queue.Enqueue(task{key: key, ctx: ctx, run: func(taskCtx context.Context) {
		defer s.release(key)
		if err := taskCtx.Err(); err != nil {
			done <- ErrServiceStopped
			return
		}
		done <- fn(taskCtx, ex)
	}})
	if !queued {
		s.release(key)
		return ErrServiceStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release(key ir.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key]--; s.inflight[key] <= 0 {
		delete(s.inflight, key)
	}
}

func (s *Service) documentOptions() []Option {
	opts := []Option{WithDataService(s.data), WithFactoryResolver(s.factories)}
	return append(opts, s.docOpts...)
}

// document returns the loaded document for key, hydrating it on first use.
// Executor goroutine only.
func (s *Service) document(ctx context.Context, ex *executor, key ir.Key) (*Document, error) {
	if d, ok := ex.docs[key]; ok {
		return d, nil
	}
	factory, err := s.factories.Resolve(key.Space)
	if err != nil {
		return nil, err
	}
	d, err := Load(ctx, factory, key, s.documentOptions()...)
	if err != nil {
		return nil, err
	}
	ex.docs[key] = d
	s.logger.Debug("document loaded", "key", key.String(), "seq", d.Seq())
	return d, nil
}

// Create constructs a new document, stamped with the document clock.
func (s *Service) Create(ctx context.Context, key ir.Key, who ir.Client, arg ir.IRObject, entropy string) (*Result, error) {
	return s.construct(ctx, key, func(d *Document) ir.IRObject {
		return constructEnvelope(who, arg, d.clock.Now(), entropy)
	})
}

// CreateEnvelope constructs a new document from a caller's construct
// envelope. The envelope is validated like any other, so its timestamp,
// arg and entropy are used as given.
func (s *Service) CreateEnvelope(ctx context.Context, key ir.Key, env ir.IRObject) (*Result, error) {
	return s.construct(ctx, key, func(*Document) ir.IRObject { return env })
}

// construct runs a construct envelope against a document that is neither
// loaded nor persisted. A persisted key fails with CodeAlreadyConstructed.
func (s *Service) construct(ctx context.Context, key ir.Key, build func(d *Document) ir.IRObject) (*Result, error) {
	var res *Result
	err := s.submit(ctx, key, func(ctx context.Context, ex *executor) error {
		if _, ok := ex.docs[key]; ok {
			return policyError(CodeAlreadyConstructed, "document %s is already loaded", key)
		}
		factory, err := s.factories.Resolve(key.Space)
		if err != nil {
			return err
		}
		d := New(factory, key, s.documentOptions()...)
		r, err := d.TransactObject(ctx, build(d))
		if err != nil {
			return err
		}
		ex.docs[key] = d
		res = r
		s.settle(ex, d, r)
		return nil
	})
	return res, err
}

// Transact runs a JSON envelope against key.
func (s *Service) Transact(ctx context.Context, key ir.Key, request []byte) (*Result, error) {
	return s.Execute(ctx, key, func(ctx context.Context, d *Document) (*Result, error) {
		return d.Transact(ctx, request)
	})
}

// Execute runs fn against key's document on its executor.
func (s *Service) Execute(ctx context.Context, key ir.Key, fn func(ctx context.Context, d *Document) (*Result, error)) (*Result, error) {
	var res *Result
	err := s.submit(ctx, key, func(ctx context.Context, ex *executor) error {
		d, err := s.document(ctx, ex, key)
		if err != nil {
			return err
		}
		r, err := fn(ctx, d)
		if err != nil {
			return err
		}
		res = r
		s.settle(ex, d, r)
		return nil
	})
	return res, err
}

// CreatePrivateView opens a view on key's document. The perspective is
// called from the document's executor.
func (s *Service) CreatePrivateView(ctx context.Context, key ir.Key, who ir.Client, p delta.Perspective, viewerState ir.IRObject) (*delta.PrivateView, error) {
	var view *delta.PrivateView
	err := s.submit(ctx, key, func(ctx context.Context, ex *executor) error {
		d, err := s.document(ctx, ex, key)
		if err != nil {
			return err
		}
		view, err = d.CreatePrivateView(ctx, who, p, viewerState)
		return err
	})
	return view, err
}

// settle unloads destroyed documents and arms the invalidate timer.
// Executor goroutine only.
func (s *Service) settle(ex *executor, d *Document, res *Result) {
	if res == nil {
		return
	}
	if res.Destroyed {
		delete(ex.docs, d.Key())
		s.logger.Info("document destroyed", "key", d.Key().String())
		return
	}
	if s.autoInvalidate && res.InvalidateInMillis >= 0 {
		s.schedule(d.Key(), res.InvalidateInMillis)
	}
}

func (s *Service) schedule(key ir.Key, ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		_, err := s.Execute(context.Background(), key, func(ctx context.Context, d *Document) (*Result, error) {
			return d.Invalidate(ctx)
		})
		if err != nil && !errors.Is(err, ErrServiceStopped) {
			s.logger.Warn("scheduled invalidate failed", "key", key.String(), "error", err)
		}
	})
}

// Loaded counts documents currently held in memory.
func (s *Service) Loaded(ctx context.Context) (int, error) {
	total := 0
	for _, ex := range s.executors {
		done := make(chan struct{})
		if !ex.queue.Enqueue(task{ctx: ctx, run: func(context.Context) {
			total += len(ex.docs)
			close(done)
		}}) {
			return 0, ErrServiceStopped
		}
		select {
		case <-done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return total, nil
}
