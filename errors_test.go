package encoder

import (
	"errors"
	"strings"
	"testing"
)

func TestConfigureError(t *testing.T) {
	cause := errors.New("libx264 missing")
	err := error(&ConfigureError{Stage: StageOpen, Codec: VideoCodecH264, Provider: ProviderNative, Err: cause})

	if !errors.Is(err, ErrSessionOpen) || !errors.Is(err, cause) {
		t.Errorf("errors.Is does not match stage sentinel and cause: %v", err)
	}
	if errors.Is(err, ErrSessionAlloc) {
		t.Error("errors.Is matched the wrong stage")
	}
	msg := err.Error()
	for _, want := range []string{"H264", "native", "open-failed", "libx264 missing"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestConfigureStage_String(t *testing.T) {
	tests := []struct {
		stage ConfigureStage
		want  string
	}{
		{StageCodecNotFound, "codec-not-found"},
		{StageAllocation, "allocation-failed"},
		{StageOpen, "open-failed"},
		{StageWorkerStart, "worker-start-failed"},
		{ConfigureStage(0), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.want {
			t.Errorf("ConfigureStage(%d).String() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestWorkerFault(t *testing.T) {
	err := error(&WorkerFault{Frames: 12, Err: ErrEndOfStream})
	if !errors.Is(err, ErrEndOfStream) {
		t.Errorf("errors.Is(%v, ErrEndOfStream) = false", err)
	}
	if !strings.Contains(err.Error(), "12 frames") {
		t.Errorf("Error() = %q", err.Error())
	}
}
