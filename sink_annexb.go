package encoder

import (
	"bufio"
	"io"
	"sync"
)

// AnnexBSink writes the elementary stream to an io.Writer, producing a raw
// .h264 / .h265 file.
type AnnexBSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	bytes  int64
}

// NewAnnexBSink creates a sink writing to w. If w is an io.Closer it is
// closed by Close.
func NewAnnexBSink(w io.Writer) *AnnexBSink {
	s := &AnnexBSink{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OnPacket implements OutputSink.
func (s *AnnexBSink) OnPacket(pkt *MediaPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(pkt.Data)
	s.bytes += int64(n)
	return err
}

// BytesWritten returns the number of payload bytes written.
func (s *AnnexBSink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Flush writes buffered data to the underlying writer.
func (s *AnnexBSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the underlying writer.
func (s *AnnexBSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
