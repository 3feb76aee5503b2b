package encoder

import "sync/atomic"

// Provider identifies a codec session implementation.
type Provider uint8

const (
	ProviderAuto   Provider = iota // Let library choose best available
	ProviderNative                 // libmedia_encoder via purego
	ProviderLibav                  // libavcodec via go-astiav (cgo, "libav" build tag)
	ProviderFFmpeg                 // ffmpeg child process
	providerCount
)

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name     string
	InProc   bool // Session runs inside this process
	Priority int  // Higher wins when ProviderAuto is resolved
}

// Static metadata table - indexed by Provider, zero allocations.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:   {"auto", false, 0},
	ProviderNative: {"native", true, 3},
	ProviderLibav:  {"libav", true, 2},
	ProviderFFmpeg: {"ffmpeg", false, 1},
}

// Runtime availability - set by init() in provider implementations.
var providerAvailable [providerCount]atomic.Bool

// ParseProvider parses a provider name. Unknown names map to ProviderAuto.
func ParseProvider(s string) Provider {
	for p := Provider(0); p < providerCount; p++ {
		if providerInfo[p].Name == s {
			return p
		}
	}
	return ProviderAuto
}

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// InProcess reports whether sessions of this provider run in-process.
func (p Provider) InProcess() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].InProc
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// setProviderAvailable marks a provider as available (called by implementations).
func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}

// Providers returns every provider that is available at runtime.
func Providers() []Provider {
	var out []Provider
	for p := ProviderAuto + 1; p < providerCount; p++ {
		if p.Available() {
			out = append(out, p)
		}
	}
	return out
}
