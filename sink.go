package encoder

import (
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// OutputSink receives packets from the encoder worker, in submission order.
// OnPacket is only ever called from the worker goroutine. The sink owns the
// packet once called. An error is logged and counted but does not stop the
// encoder.
type OutputSink interface {
	OnPacket(pkt *MediaPacket) error
}

// SinkFunc adapts a function to OutputSink.
type SinkFunc func(pkt *MediaPacket) error

// OnPacket implements OutputSink.
func (f SinkFunc) OnPacket(pkt *MediaPacket) error { return f(pkt) }

// MultiSink delivers each packet to every sink in order. Each sink gets its
// own copy of the packet except the last one.
type MultiSink []OutputSink

// OnPacket implements OutputSink.
func (m MultiSink) OnPacket(pkt *MediaPacket) error {
	var result *multierror.Error
	for i, s := range m {
		p := pkt
		if i < len(m)-1 {
			p = pkt.Clone()
		}
		if err := s.OnPacket(p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes every sink that implements io.Closer.
func (m MultiSink) Close() error {
	var result *multierror.Error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// PacketCollector is an in-memory sink.
type PacketCollector struct {
	mu      sync.Mutex
	packets []*MediaPacket
	notify  chan struct{}
}

// NewPacketCollector creates an empty collector.
func NewPacketCollector() *PacketCollector {
	return &PacketCollector{notify: make(chan struct{}, 1)}
}

// OnPacket implements OutputSink.
func (c *PacketCollector) OnPacket(pkt *MediaPacket) error {
	c.mu.Lock()
	c.packets = append(c.packets, pkt)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Packets returns a copy of the collected packet list.
func (c *PacketCollector) Packets() []*MediaPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*MediaPacket, len(c.packets))
	copy(out, c.packets)
	return out
}

// Len returns the number of collected packets.
func (c *PacketCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

// Notify returns a channel that receives after new packets arrive.
func (c *PacketCollector) Notify() <-chan struct{} {
	return c.notify
}
