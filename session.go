package encoder

import (
	"fmt"
	"sort"
	"sync"
)

// CodecSession is a stateful encoder instance. A session is owned by exactly
// one goroutine; implementations need not be safe for concurrent use.
//
// ReceivePacket returns ErrNeedMoreInput when no packet is ready and
// ErrEndOfStream once the session can produce no further output.
type CodecSession interface {
	// Open configures the session. It is called once, before any frame.
	Open(params CodecParameters) error

	// SendFrame submits one frame for encoding.
	SendFrame(frame *NativeFrame) error

	// ReceivePacket returns the next ready packet. The packet data is only
	// valid until the next call on the session.
	ReceivePacket() (*NativePacket, error)

	// Close releases the session. Close on a session that failed to open
	// is allowed.
	Close() error
}

// --- Registry ---

type sessionFactory func(codec VideoCodec) (CodecSession, error)

type sessionRegistry struct {
	mu        sync.RWMutex
	factories map[VideoCodec]map[Provider]sessionFactory
}

var globalSessionRegistry = &sessionRegistry{
	factories: make(map[VideoCodec]map[Provider]sessionFactory),
}

// registerSession registers a session factory for a codec+provider.
func registerSession(codec VideoCodec, provider Provider, factory sessionFactory) {
	globalSessionRegistry.mu.Lock()
	defer globalSessionRegistry.mu.Unlock()

	if globalSessionRegistry.factories[codec] == nil {
		globalSessionRegistry.factories[codec] = make(map[Provider]sessionFactory)
	}
	globalSessionRegistry.factories[codec][provider] = factory
}

// lookupSession resolves the factory for codec. ProviderAuto picks the
// available provider with the highest priority.
func lookupSession(codec VideoCodec, provider Provider) (sessionFactory, Provider, error) {
	globalSessionRegistry.mu.RLock()
	defer globalSessionRegistry.mu.RUnlock()

	providers := globalSessionRegistry.factories[codec]
	if len(providers) == 0 {
		return nil, provider, fmt.Errorf("%w: no providers for %s", ErrCodecNotFound, codec)
	}

	if provider == ProviderAuto {
		candidates := make([]Provider, 0, len(providers))
		for p := range providers {
			if p.Available() {
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			return nil, provider, fmt.Errorf("%w: no available provider for %s", ErrCodecNotFound, codec)
		}
		sort.Slice(candidates, func(i, j int) bool {
			return providerInfo[candidates[i]].Priority > providerInfo[candidates[j]].Priority
		})
		provider = candidates[0]
	}

	factory, ok := providers[provider]
	if !ok || !provider.Available() {
		return nil, provider, fmt.Errorf("%w: %s for %s", ErrCodecNotFound, provider, codec)
	}
	return factory, provider, nil
}

// SessionProviders returns the available providers registered for codec.
func SessionProviders(codec VideoCodec) []Provider {
	globalSessionRegistry.mu.RLock()
	defer globalSessionRegistry.mu.RUnlock()

	result := make([]Provider, 0, len(globalSessionRegistry.factories[codec]))
	for p := range globalSessionRegistry.factories[codec] {
		if p.Available() {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// SessionFactory creates an unopened session for a codec. It lets callers
// supply their own CodecSession implementation through Config.
type SessionFactory func(codec VideoCodec) (CodecSession, error)
