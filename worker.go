package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// worker owns a CodecSession for its whole life and runs the
// dequeue -> convert -> submit -> drain -> emit loop on one goroutine.
type worker struct {
	session CodecSession
	params  CodecParameters
	queue   *FrameQueue
	sink    OutputSink
	logger  *slog.Logger
	stats   *encoderCounters

	submitted int64 // frames accepted by this session

	ready chan struct{}
	done  chan struct{}
	fault error // written before done is closed
}

func newWorker(session CodecSession, params CodecParameters, queue *FrameQueue, sink OutputSink, logger *slog.Logger, stats *encoderCounters) *worker {
	return &worker{
		session: session,
		params:  params,
		queue:   queue,
		sink:    sink,
		logger:  logger.With("worker", "Enc"+params.Codec.String()),
		stats:   stats,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// start launches the loop and waits until it is running. On failure the
// loop has exited and the session is closed.
func (w *worker) start(ctx, runCtx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		cancel()
		w.closeSession()
		close(w.done)
		return err
	}

	go w.run(runCtx)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		cancel()
		<-w.done
		return ctx.Err()
	case <-timer:
		cancel()
		<-w.done
		return fmt.Errorf("worker not ready after %s", timeout)
	}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.closeSession()

	if ctx.Err() != nil {
		return
	}
	close(w.ready)
	w.logger.Debug("encoder worker started")

	for {
		frame, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Debug("encoder worker stopping", "reason", err)
			return
		}
		if ctx.Err() != nil {
			w.stats.framesDropped.Add(1)
			return
		}

		if err := w.encode(frame); err != nil {
			w.fault = &WorkerFault{Frames: w.submitted, Err: err}
			return
		}
	}
}

func (w *worker) encode(frame *MediaFrame) error {
	start := time.Now()
	defer func() {
		w.stats.encodeTimeNs.Add(int64(time.Since(start)))
	}()

	native, err := convertFrame(frame, w.params)
	if err != nil {
		w.logger.Error("could not convert frame, stopping encoder", "timestamp", frame.timestamp(), "error", err)
		return err
	}

	if err := w.session.SendFrame(native); err != nil {
		w.stats.submitErrors.Add(1)
		w.logger.Warn("error sending a frame for encoding", "pts", native.PTS, "error", err)
	} else {
		w.submitted++
		w.stats.framesSubmitted.Add(1)
	}

	return w.drain()
}

// drain pulls every ready packet from the session. Retrieval errors other
// than ErrNeedMoreInput are unrecoverable for the session.
func (w *worker) drain() error {
	for {
		np, err := w.session.ReceivePacket()
		if errors.Is(err, ErrNeedMoreInput) {
			return nil
		}
		if err != nil {
			w.logger.Error("error receiving a packet, stopping encoder", "error", err)
			return fmt.Errorf("receive packet: %w", err)
		}

		pkt, err := convertPacket(np, w.params)
		if err != nil {
			w.stats.packetConversionErrors.Add(1)
			w.logger.Warn("could not convert packet", "error", err)
			return nil
		}

		w.emit(pkt)
	}
}

func (w *worker) emit(pkt *MediaPacket) {
	size := len(pkt.Data)
	key := pkt.Keyframe
	if err := w.sink.OnPacket(pkt); err != nil {
		w.stats.sinkErrors.Add(1)
		w.logger.Warn("output sink rejected packet", "pts", pkt.PTS, "error", err)
		return
	}
	w.stats.packetsEmitted.Add(1)
	w.stats.bytesEmitted.Add(uint64(size))
	if key {
		w.stats.keyframesEmitted.Add(1)
	}
}

func (w *worker) closeSession() {
	if err := w.session.Close(); err != nil {
		w.logger.Warn("error closing codec session", "error", err)
	}
}
