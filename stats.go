package encoder

import (
	"sync/atomic"
	"time"
)

// EncoderStats provides encoder metrics.
type EncoderStats struct {
	FramesEnqueued         uint64        // Frames accepted by the queue
	FramesRejected         uint64        // Frames refused by BackpressureReject
	FramesDropped          uint64        // Frames evicted or discarded at Stop
	FramesSubmitted        uint64        // Frames handed to the session
	SubmitErrors           uint64        // Session rejected a frame
	PacketsEmitted         uint64        // Packets delivered to the sink
	KeyframesEmitted       uint64        // Keyframe packets delivered
	BytesEmitted           uint64        // Payload bytes delivered
	PacketConversionErrors uint64        // Drain passes cut short
	SinkErrors             uint64        // Sink returned an error
	EncodeTime             time.Duration // Time spent in submit+drain
	QueueDepth             int           // Frames waiting at snapshot time
}

type encoderCounters struct {
	framesEnqueued         atomic.Uint64
	framesRejected         atomic.Uint64
	framesDropped          atomic.Uint64
	framesSubmitted        atomic.Uint64
	submitErrors           atomic.Uint64
	packetsEmitted         atomic.Uint64
	keyframesEmitted       atomic.Uint64
	bytesEmitted           atomic.Uint64
	packetConversionErrors atomic.Uint64
	sinkErrors             atomic.Uint64
	encodeTimeNs           atomic.Int64
}

func (c *encoderCounters) snapshot() EncoderStats {
	return EncoderStats{
		FramesEnqueued:         c.framesEnqueued.Load(),
		FramesRejected:         c.framesRejected.Load(),
		FramesDropped:          c.framesDropped.Load(),
		FramesSubmitted:        c.framesSubmitted.Load(),
		SubmitErrors:           c.submitErrors.Load(),
		PacketsEmitted:         c.packetsEmitted.Load(),
		KeyframesEmitted:       c.keyframesEmitted.Load(),
		BytesEmitted:           c.bytesEmitted.Load(),
		PacketConversionErrors: c.packetConversionErrors.Load(),
		SinkErrors:             c.sinkErrors.Load(),
		EncodeTime:             time.Duration(c.encodeTimeNs.Load()),
	}
}
