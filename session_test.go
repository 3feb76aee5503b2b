package encoder

import (
	"context"
	"errors"
	"slices"
	"testing"
)

// withProvider registers factory for codec and p and restores the previous
// registration and availability afterwards.
func withProvider(t *testing.T, codec VideoCodec, p Provider, factory sessionFactory) {
	t.Helper()
	wasAvailable := p.Available()
	globalSessionRegistry.mu.RLock()
	prev, hadPrev := globalSessionRegistry.factories[codec][p]
	globalSessionRegistry.mu.RUnlock()

	registerSession(codec, p, factory)
	setProviderAvailable(p)
	t.Cleanup(func() {
		globalSessionRegistry.mu.Lock()
		if hadPrev {
			globalSessionRegistry.factories[codec][p] = prev
		} else {
			delete(globalSessionRegistry.factories[codec], p)
		}
		globalSessionRegistry.mu.Unlock()
		providerAvailable[p].Store(wasAvailable)
	})
}

// testCodec is a codec value outside the supported set, so real provider
// registrations never collide with the test ones.
const testCodec = VideoCodec(100)

func TestLookupSession_AutoPicksHighestPriority(t *testing.T) {
	withProvider(t, testCodec, ProviderFFmpeg, func(VideoCodec) (CodecSession, error) { return nil, nil })
	withProvider(t, testCodec, ProviderLibav, func(VideoCodec) (CodecSession, error) { return nil, nil })

	_, p, err := lookupSession(testCodec, ProviderAuto)
	if err != nil {
		t.Fatalf("lookupSession() error = %v", err)
	}
	if p != ProviderLibav {
		t.Errorf("lookupSession(auto) provider = %v, want libav", p)
	}

	_, p, err = lookupSession(testCodec, ProviderFFmpeg)
	if err != nil || p != ProviderFFmpeg {
		t.Errorf("lookupSession(ffmpeg) = %v, %v", p, err)
	}

	got := SessionProviders(testCodec)
	if !slices.Equal(got, []Provider{ProviderLibav, ProviderFFmpeg}) {
		t.Errorf("SessionProviders() = %v", got)
	}
}

func TestLookupSession_NotFound(t *testing.T) {
	if _, _, err := lookupSession(VideoCodec(101), ProviderAuto); !errors.Is(err, ErrCodecNotFound) {
		t.Errorf("lookupSession(unregistered) error = %v, want ErrCodecNotFound", err)
	}

	withProvider(t, testCodec, ProviderFFmpeg, func(VideoCodec) (CodecSession, error) { return nil, nil })
	if _, _, err := lookupSession(testCodec, ProviderNative); !errors.Is(err, ErrCodecNotFound) {
		t.Errorf("lookupSession(unregistered provider) error = %v, want ErrCodecNotFound", err)
	}
}

func TestEncoder_ConfigureUsesRegistry(t *testing.T) {
	s := newFakeSession()
	withProvider(t, VideoCodecH264, ProviderFFmpeg, func(VideoCodec) (CodecSession, error) { return s, nil })

	enc := New(Config{Provider: ProviderFFmpeg, CPUCount: func() int { return 8 }})
	if err := enc.Configure(context.Background(), testContext()); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer enc.Stop()

	if got := enc.Provider(); got != ProviderFFmpeg {
		t.Errorf("Provider() = %v, want ffmpeg", got)
	}
	if err := enc.Enqueue(context.Background(), testFrame(0)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, "frame at registered session", func() bool { return s.frameCount() == 1 })
}

func TestEncoder_UnsupportedCodecSkipsRegistry(t *testing.T) {
	called := false
	withProvider(t, testCodec, ProviderFFmpeg, func(VideoCodec) (CodecSession, error) {
		called = true
		return newFakeSession(), nil
	})

	ec := testContext()
	ec.Codec = testCodec
	err := New(Config{Provider: ProviderFFmpeg}).Configure(context.Background(), ec)

	var ce *ConfigureError
	if !errors.As(err, &ce) || ce.Stage != StageCodecNotFound {
		t.Fatalf("Configure() error = %v, want codec-not-found", err)
	}
	if called {
		t.Error("factory called for an unsupported codec")
	}
}

func TestProvider(t *testing.T) {
	tests := []struct {
		name      string
		want      Provider
		inProcess bool
	}{
		{"auto", ProviderAuto, false},
		{"native", ProviderNative, true},
		{"libav", ProviderLibav, true},
		{"ffmpeg", ProviderFFmpeg, false},
	}
	for _, tt := range tests {
		p := ParseProvider(tt.name)
		if p != tt.want || p.String() != tt.name || p.InProcess() != tt.inProcess {
			t.Errorf("ParseProvider(%q) = %v (in-process %v)", tt.name, p, p.InProcess())
		}
	}
	if got := ParseProvider("gpu"); got != ProviderAuto {
		t.Errorf("ParseProvider(gpu) = %v, want auto", got)
	}
	if got := Provider(200).String(); got != "unknown" {
		t.Errorf("Provider(200).String() = %q", got)
	}
	if Provider(200).Available() {
		t.Error("Provider(200).Available() = true")
	}
}
