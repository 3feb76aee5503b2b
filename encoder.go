package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// EncoderState is the lifecycle state of an Encoder.
type EncoderState int32

const (
	StateUnconfigured EncoderState = iota // New, or a Configure attempt failed
	StateConfiguring                      // Resolving parameters, opening the session
	StateReady                            // Session open, worker not yet running
	StateRunning                          // Worker consuming frames
	StateStopping                         // Stop requested, waiting for the worker
	StateStopped                          // Worker exited, session closed
	StateFaulted                          // Worker exited on its own; see Err
)

func (s EncoderState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// DefaultStartTimeout bounds how long Configure waits for the worker.
const DefaultStartTimeout = 5 * time.Second

// Config configures an Encoder.
type Config struct {
	Provider Provider       // Session provider (ProviderAuto = best available)
	Sessions SessionFactory // Optional: overrides the provider registry

	QueueCapacity int                // Frame queue capacity (0 = DefaultQueueCapacity)
	Backpressure  BackpressurePolicy // What Enqueue does on a full queue

	Sink   OutputSink   // Packet destination (nil = discard)
	Logger *slog.Logger // nil = discard

	// OnFault is called once when the worker stops on its own. It runs on
	// the encoder's monitor goroutine after Done is closed and Err is set,
	// so Stop and Done may return before it has run. It may call Stop.
	OnFault func(error)

	CPUCount     func() int    // nil = runtime.NumCPU
	StartTimeout time.Duration // 0 = DefaultStartTimeout
}

// encoderRun is the state of one successful Configure.
type encoderRun struct {
	id       string
	params   CodecParameters
	provider Provider
	queue    *FrameQueue
	worker   *worker
	cancel   context.CancelFunc
	logger   *slog.Logger
	done     chan struct{} // closed after the worker exited and the fault was recorded
}

// Encoder drives one codec session from a dedicated worker goroutine.
//
//	Enqueue -> FrameQueue -> worker -> CodecSession -> worker -> OutputSink
//
// Configure and Stop are serialized; Enqueue may be called from any number
// of goroutines.
type Encoder struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex // serializes Configure / Stop
	state atomic.Int32
	run   atomic.Pointer[encoderRun]

	faultMu sync.Mutex
	fault   error

	stats encoderCounters
}

// New creates an unconfigured encoder.
func New(config Config) *Encoder {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Sink == nil {
		config.Sink = SinkFunc(func(*MediaPacket) error { return nil })
	}
	e := &Encoder{
		config: config,
		logger: logger.With("component", "encoder"),
	}
	e.state.Store(int32(StateUnconfigured))
	return e
}

// Configure resolves codec parameters from ec, opens a codec session and
// starts the worker. On failure the encoder returns to its previous state
// with no session left open, and the error is a *ConfigureError.
func (e *Encoder) Configure(ctx context.Context, ec EncodingContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.State()
	if prev != StateUnconfigured && prev != StateStopped {
		return fmt.Errorf("%w: configure in state %s", ErrInvalidState, prev)
	}
	e.setState(StateConfiguring)

	id := uuid.NewString()
	provider := e.config.Provider
	logger := e.logger.With("id", id, "codec", ec.Codec.String())

	fail := func(stage ConfigureStage, err error) error {
		e.setState(prev)
		logger.Error("could not configure encoder", "stage", stage.String(), "provider", provider.String(), "error", err)
		return &ConfigureError{Stage: stage, Codec: ec.Codec, Provider: provider, Err: err}
	}

	params := ResolveWithCPUCount(ec, e.cpuCount())

	if !ec.Codec.Supported() {
		return fail(StageCodecNotFound, fmt.Errorf("%w: %s", ErrCodecNotFound, ec.Codec))
	}

	factory := e.config.Sessions
	if factory == nil {
		f, p, err := lookupSession(ec.Codec, provider)
		if err != nil {
			return fail(StageCodecNotFound, err)
		}
		factory, provider = SessionFactory(f), p
	}
	logger = logger.With("provider", provider.String())

	session, err := factory(ec.Codec)
	if err != nil {
		return fail(StageAllocation, err)
	}
	if session == nil {
		return fail(StageAllocation, fmt.Errorf("%w: provider returned no session", ErrSessionAlloc))
	}

	if err := params.Validate(); err != nil {
		session.Close()
		return fail(StageOpen, err)
	}
	if err := session.Open(params); err != nil {
		session.Close()
		return fail(StageOpen, err)
	}
	e.setState(StateReady)

	queue := NewFrameQueue(e.config.QueueCapacity)
	runCtx, cancel := context.WithCancel(context.Background())
	w := newWorker(session, params, queue, e.config.Sink, logger, &e.stats)

	timeout := e.config.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	if err := w.start(ctx, runCtx, cancel, timeout); err != nil {
		cancel()
		queue.Close()
		return fail(StageWorkerStart, err)
	}

	run := &encoderRun{
		id:       id,
		params:   params,
		provider: provider,
		queue:    queue,
		worker:   w,
		cancel:   cancel,
		logger:   logger,
		done:     make(chan struct{}),
	}
	e.setFault(nil)
	e.run.Store(run)
	e.setState(StateRunning)
	go e.monitor(run)

	logger.Info("encoder configured",
		"width", params.Width,
		"height", params.Height,
		"framerate", params.Framerate.String(),
		"timebase", params.TimeBase.String(),
		"bitrate", params.Bitrate,
		"gop", params.GOPSize,
		"preset", params.Preset.String(),
		"threads", params.ThreadCount,
	)
	return nil
}

// monitor waits for the worker and records a fault if it stopped on its own.
func (e *Encoder) monitor(run *encoderRun) {
	<-run.worker.done
	fault := run.worker.fault
	if fault != nil {
		e.setFault(fault)
		run.queue.Close()
		if e.state.CompareAndSwap(int32(StateRunning), int32(StateFaulted)) {
			run.logger.Error("encoder worker faulted", "error", fault)
		}
	}
	close(run.done)

	if fault != nil && e.config.OnFault != nil {
		e.config.OnFault(fault)
	}
}

// Stop cancels the worker and returns once it has exited. Stop is
// idempotent and a no-op on an encoder that is not running.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.State()
	if state != StateRunning && state != StateFaulted {
		return nil
	}
	run := e.run.Load()

	e.setState(StateStopping)
	run.cancel()
	run.queue.Close()
	<-run.done

	if dropped := run.queue.Drain(); len(dropped) > 0 {
		e.stats.framesDropped.Add(uint64(len(dropped)))
		run.logger.Debug("discarded queued frames", "count", len(dropped))
	}
	e.setState(StateStopped)
	run.logger.Info("encoder stopped")
	return nil
}

// Close stops the encoder and closes the sink if it implements io.Closer.
func (e *Encoder) Close() error {
	var result *multierror.Error
	if err := e.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if c, ok := e.config.Sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close sink: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Enqueue hands f to the encoder, applying the configured backpressure
// policy when the queue is full. The encoder owns f afterwards.
func (e *Encoder) Enqueue(ctx context.Context, f *MediaFrame) error {
	run, err := e.acceptingRun()
	if err != nil {
		return err
	}

	switch e.config.Backpressure {
	case BackpressureReject:
		err = run.queue.TryEnqueue(f)
	case BackpressureDropOldest:
		var dropped []*MediaFrame
		dropped, err = run.queue.EnqueueDropOldest(f)
		e.stats.framesDropped.Add(uint64(len(dropped)))
	default:
		err = run.queue.Enqueue(ctx, f)
	}
	return e.enqueueResult(err)
}

// TryEnqueue hands f to the encoder without blocking, failing with
// ErrQueueFull when the queue is at capacity.
func (e *Encoder) TryEnqueue(f *MediaFrame) error {
	run, err := e.acceptingRun()
	if err != nil {
		return err
	}
	return e.enqueueResult(run.queue.TryEnqueue(f))
}

func (e *Encoder) acceptingRun() (*encoderRun, error) {
	switch state := e.State(); state {
	case StateRunning:
		return e.run.Load(), nil
	case StateFaulted:
		return nil, e.Err()
	default:
		return nil, fmt.Errorf("%w: enqueue in state %s", ErrInvalidState, state)
	}
}

func (e *Encoder) enqueueResult(err error) error {
	switch {
	case err == nil:
		e.stats.framesEnqueued.Add(1)
		return nil
	case errors.Is(err, ErrQueueFull):
		e.stats.framesRejected.Add(1)
	case errors.Is(err, ErrQueueClosed):
		if fault := e.Err(); fault != nil {
			return fault
		}
	}
	return err
}

// State returns the current lifecycle state.
func (e *Encoder) State() EncoderState {
	return EncoderState(e.state.Load())
}

func (e *Encoder) setState(s EncoderState) {
	e.state.Store(int32(s))
}

// Err returns the fault that stopped the worker, nil if none.
func (e *Encoder) Err() error {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	return e.fault
}

func (e *Encoder) setFault(err error) {
	e.faultMu.Lock()
	e.fault = err
	e.faultMu.Unlock()
}

// Done returns a channel closed once the current worker has exited, either
// through Stop or a fault. Before the first Configure it is already closed.
func (e *Encoder) Done() <-chan struct{} {
	if run := e.run.Load(); run != nil {
		return run.done
	}
	return closedChan
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Params returns the parameters of the current session.
func (e *Encoder) Params() CodecParameters {
	if run := e.run.Load(); run != nil {
		return run.params
	}
	return CodecParameters{}
}

// Provider returns the provider of the current session.
func (e *Encoder) Provider() Provider {
	if run := e.run.Load(); run != nil {
		return run.provider
	}
	return e.config.Provider
}

// ID returns the identifier of the current session, empty before Configure.
func (e *Encoder) ID() string {
	if run := e.run.Load(); run != nil {
		return run.id
	}
	return ""
}

// QueueLen returns the number of frames waiting for the worker.
func (e *Encoder) QueueLen() int {
	if run := e.run.Load(); run != nil {
		return run.queue.Len()
	}
	return 0
}

// QueueCap returns the frame queue capacity.
func (e *Encoder) QueueCap() int {
	if run := e.run.Load(); run != nil {
		return run.queue.Cap()
	}
	if e.config.QueueCapacity > 0 {
		return e.config.QueueCapacity
	}
	return DefaultQueueCapacity
}

// Stats returns encoding statistics.
func (e *Encoder) Stats() EncoderStats {
	s := e.stats.snapshot()
	s.QueueDepth = e.QueueLen()
	return s
}

func (e *Encoder) cpuCount() int {
	if e.config.CPUCount != nil {
		return e.config.CPUCount()
	}
	return runtime.NumCPU()
}
