package encoder

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrCodecNotFound    = errors.New("codec not found")
	ErrSessionAlloc     = errors.New("codec session allocation failed")
	ErrSessionOpen      = errors.New("codec session open failed")
	ErrWorkerStart      = errors.New("encoder worker start failed")
	ErrNeedMoreInput    = errors.New("codec session needs more input")
	ErrEndOfStream      = errors.New("codec session reached end of stream")
	ErrFrameConversion  = errors.New("frame conversion failed")
	ErrPacketConversion = errors.New("packet conversion failed")
	ErrQueueFull        = errors.New("frame queue full")
	ErrQueueClosed      = errors.New("frame queue closed")
	ErrInvalidState     = errors.New("invalid encoder state")
	ErrNotSupported     = errors.New("operation not supported")
	ErrSessionClosed    = errors.New("codec session closed")
)

// ConfigureStage names the step of Configure that failed.
type ConfigureStage int

const (
	StageCodecNotFound ConfigureStage = iota + 1
	StageAllocation
	StageOpen
	StageWorkerStart
)

func (s ConfigureStage) String() string {
	switch s {
	case StageCodecNotFound:
		return "codec-not-found"
	case StageAllocation:
		return "allocation-failed"
	case StageOpen:
		return "open-failed"
	case StageWorkerStart:
		return "worker-start-failed"
	default:
		return "unknown"
	}
}

// sentinel returns the package error matching the stage.
func (s ConfigureStage) sentinel() error {
	switch s {
	case StageCodecNotFound:
		return ErrCodecNotFound
	case StageAllocation:
		return ErrSessionAlloc
	case StageOpen:
		return ErrSessionOpen
	case StageWorkerStart:
		return ErrWorkerStart
	default:
		return nil
	}
}

// ConfigureError is returned by Encoder.Configure. errors.Is matches both the
// stage sentinel (ErrSessionOpen, ...) and the underlying cause.
type ConfigureError struct {
	Stage    ConfigureStage
	Codec    VideoCodec
	Provider Provider
	Err      error
}

func (e *ConfigureError) Error() string {
	return fmt.Sprintf("configure %s encoder (%s): %s: %v", e.Codec, e.Provider, e.Stage, e.Err)
}

func (e *ConfigureError) Unwrap() []error {
	if s := e.Stage.sentinel(); s != nil && !errors.Is(e.Err, s) {
		return []error{s, e.Err}
	}
	return []error{e.Err}
}

// WorkerFault is the terminal error reported when the worker stops on its own.
type WorkerFault struct {
	Frames int64 // Frames submitted to this session before the fault
	Err    error
}

func (f *WorkerFault) Error() string {
	return fmt.Sprintf("encoder worker stopped after %d frames: %v", f.Frames, f.Err)
}

func (f *WorkerFault) Unwrap() error { return f.Err }
