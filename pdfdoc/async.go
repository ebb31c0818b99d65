package pdfdoc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/drummonds/pdfpage/pdfengine"
)

// Scheduler runs deferred work off the caller's goroutine.
type Scheduler interface {
	Go(task func())
}

// BackgroundScheduler runs every task on its own goroutine, with at most a
// fixed number running at once.
type BackgroundScheduler struct {
	sem *semaphore.Weighted
}

// NewBackgroundScheduler allows maxParallel concurrent tasks.
func NewBackgroundScheduler(maxParallel int64) *BackgroundScheduler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &BackgroundScheduler{sem: semaphore.NewWeighted(maxParallel)}
}

func (s *BackgroundScheduler) Go(task func()) {
	go func() {
		// Acquire with a background context never fails.
		_ = s.sem.Acquire(context.Background(), 1)
		defer s.sem.Release(1)
		task()
	}()
}

// LoopScheduler runs tasks one at a time, in submission order, on a single
// loop goroutine. The loop starts on demand and exits when the queue drains.
type LoopScheduler struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewLoopScheduler returns an idle loop.
func NewLoopScheduler() *LoopScheduler {
	return &LoopScheduler{}
}

func (s *LoopScheduler) Go(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, task)
	if !s.running {
		s.running = true
		go s.loop()
	}
}

func (s *LoopScheduler) loop() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		task()
	}
}

// AsyncMode selects how SchedulerFor treats engine capabilities.
type AsyncMode string

const (
	// AsyncAuto follows the engine's NativeAsync capability.
	AsyncAuto AsyncMode = "auto"
	// AsyncNative always uses a BackgroundScheduler.
	AsyncNative AsyncMode = "native"
	// AsyncDeferred always uses a LoopScheduler.
	AsyncDeferred AsyncMode = "deferred"
)

// ParseAsyncMode accepts auto, native and deferred.
func ParseAsyncMode(s string) (AsyncMode, error) {
	switch m := AsyncMode(s); m {
	case AsyncAuto, AsyncNative, AsyncDeferred:
		return m, nil
	}
	return "", fmt.Errorf("unknown async mode %q", s)
}

// Settings used by SchedulerFor. Set them before the first document is opened.
var (
	DefaultAsyncMode         = AsyncAuto
	MaxParallelRenders int64 = 4
)

var schedulers sync.Map // pdfengine.Engine -> Scheduler

// SchedulerFor returns the scheduler for engine, deciding once per engine
// whether it can render in the background or needs deferral onto a loop.
func SchedulerFor(engine pdfengine.Engine) Scheduler {
	if s, ok := schedulers.Load(engine); ok {
		return s.(Scheduler)
	}
	native := engine.Capabilities().NativeAsync
	switch DefaultAsyncMode {
	case AsyncNative:
		native = true
	case AsyncDeferred:
		native = false
	}
	var s Scheduler
	if native {
		s = NewBackgroundScheduler(MaxParallelRenders)
	} else {
		s = NewLoopScheduler()
	}
	actual, loaded := schedulers.LoadOrStore(engine, s)
	if !loaded {
		Logger.Info("Resolved render scheduling", "engine", engine.Name(), "native", native, "mode", string(DefaultAsyncMode))
	}
	return actual.(Scheduler)
}

// RenderCallback receives the outcome of a callback render. Exactly one of
// result and err is non-nil.
type RenderCallback func(result *RenderResult, err error)

// RenderToFileCallback validates and renders on the document's scheduler and
// reports through cb. cb never runs on the caller's goroutine.
func (p *Page) RenderToFileCallback(path, format string, ppi float64, opts RenderOptions, cb RenderCallback) {
	p.renderCallback(TargetFile, path, format, ppi, opts, cb)
}

// RenderToBufferCallback is the buffer form of RenderToFileCallback.
func (p *Page) RenderToBufferCallback(format string, ppi float64, opts RenderOptions, cb RenderCallback) {
	p.renderCallback(TargetBuffer, "", format, ppi, opts, cb)
}

func (p *Page) renderCallback(target Target, path, format string, ppi float64, opts RenderOptions, cb RenderCallback) {
	p.doc.scheduler.Go(func() {
		cb(p.safeRender(target, path, format, ppi, opts))
	})
}

// safeRender turns a panic in the render path into an error.
func (p *Page) safeRender(target Target, path, format string, ppi float64, opts RenderOptions) (res *RenderResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Render panicked", "page", p.num, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("render of page %d panicked: %v", p.num, r)
		}
	}()
	return p.Render(target, path, format, ppi, opts)
}

// Future is the pending result of an asynchronous render.
type Future struct {
	done   chan struct{}
	result *RenderResult
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(res *RenderResult, err error) {
	f.result, f.err = res, err
	close(f.done)
}

// Done is closed once the render has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the render finishes or ctx is done. Giving up on ctx
// does not stop the render.
func (f *Future) Wait(ctx context.Context) (*RenderResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RenderToFileAsync starts a file render and returns its future.
func (p *Page) RenderToFileAsync(path, format string, ppi float64, opts RenderOptions) *Future {
	f := newFuture()
	p.RenderToFileCallback(path, format, ppi, opts, f.resolve)
	return f
}

// RenderToBufferAsync starts a buffer render and returns its future.
func (p *Page) RenderToBufferAsync(format string, ppi float64, opts RenderOptions) *Future {
	f := newFuture()
	p.RenderToBufferCallback(format, ppi, opts, f.resolve)
	return f
}
