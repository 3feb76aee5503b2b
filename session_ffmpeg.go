package encoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// ErrFFmpegNotFound is returned when no ffmpeg executable can be located.
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

const (
	ffmpegReadChunk    = 64 * 1024
	ffmpegCloseTimeout = 5 * time.Second
	ffmpegStderrTail   = 4 * 1024
)

// FindFFmpeg locates the ffmpeg executable. FFMPEG_PATH takes precedence,
// then PATH, then common install locations.
func FindFFmpeg() (string, error) {
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: FFMPEG_PATH=%s: %v", ErrFFmpegNotFound, p, err)
		}
		return p, nil
	}

	execName := "ffmpeg"
	if runtime.GOOS == "windows" {
		execName = "ffmpeg.exe"
	}
	if path, err := exec.LookPath(execName); err == nil {
		return path, nil
	}

	var commonPaths []string
	if runtime.GOOS == "windows" {
		commonPaths = []string{
			`C:\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files\ffmpeg\bin\ffmpeg.exe`,
		}
	} else {
		commonPaths = []string{
			"/usr/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/opt/homebrew/bin/ffmpeg",
			"/snap/bin/ffmpeg",
		}
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrFFmpegNotFound
}

// ffmpegArgs builds the command line that turns raw I420 on stdin into an
// Annex-B elementary stream with access unit delimiters on stdout.
func ffmpegArgs(p CodecParameters) []string {
	bitrate := strconv.FormatInt(p.Bitrate, 10)
	gop := strconv.Itoa(p.GOPSize)

	format, bsf := "h264", "h264_metadata=aud=insert"
	if p.Codec == VideoCodecH265 {
		format, bsf = "hevc", "hevc_metadata=aud=insert"
	}

	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-r", p.Framerate.String(),
		"-i", "pipe:0",
		"-an",
		"-c:v", p.Codec.encoderName(),
		"-preset", p.Preset.String(),
		"-tune", p.Tune.String(),
		"-profile:v", p.Profile.String(),
		"-b:v", bitrate,
		"-minrate", strconv.FormatInt(p.MinRate, 10),
		"-maxrate", strconv.FormatInt(p.MaxRate, 10),
		"-bufsize", strconv.FormatInt(p.RCBufferSize, 10),
		"-g", gop,
		"-keyint_min", strconv.Itoa(p.MinKeyframeInterval),
		"-bf", strconv.Itoa(p.MaxBFrames),
		"-sc_threshold", "0",
		"-threads", strconv.Itoa(p.ThreadCount),
		"-" + p.CodecOptionsKey(), p.CodecOptions(),
		"-bsf:v", bsf,
		"-flush_packets", "1",
		"-f", format,
		"pipe:1",
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// ffmpegSession implements CodecSession with an ffmpeg child process.
// Output is collected by a reader goroutine; ReceivePacket never blocks.
type ffmpegSession struct {
	codec  VideoCodec
	params CodecParameters

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *tailBuffer
	readerDone chan struct{}

	mu      sync.Mutex
	pending []int64 // PTS of submitted frames not yet returned
	lastPTS int64
	packets []*NativePacket
	readErr error
	exited  bool
}

func newFFmpegSession(codec VideoCodec) (CodecSession, error) {
	if codec.encoderName() == "" {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotFound, codec)
	}
	return &ffmpegSession{codec: codec}, nil
}

// Open implements CodecSession.
func (s *ffmpegSession) Open(params CodecParameters) error {
	path, err := FindFFmpeg()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionOpen, err)
	}

	s.params = params
	s.stderr = &tailBuffer{max: ffmpegStderrTail}
	cmd := exec.Command(path, ffmpegArgs(params)...)
	cmd.Stderr = s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrSessionOpen, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("%w: stdout pipe: %v", ErrSessionOpen, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", ErrSessionOpen, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.readerDone = make(chan struct{})
	go s.readLoop(stdout)
	return nil
}

func (s *ffmpegSession) readLoop(stdout io.Reader) {
	defer close(s.readerDone)

	splitter := &accessUnitSplitter{codec: s.codec}
	r := bufio.NewReaderSize(stdout, ffmpegReadChunk)
	chunk := make([]byte, ffmpegReadChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			for _, au := range splitter.Write(chunk[:n]) {
				s.push(au)
			}
		}
		if err != nil {
			if au := splitter.Flush(); len(au) > 0 {
				s.push(au)
			}
			s.mu.Lock()
			if err != io.EOF {
				s.readErr = err
			}
			s.exited = true
			s.mu.Unlock()
			return
		}
	}
}

// push queues a complete access unit, pairing it with the oldest
// outstanding frame timestamp.
func (s *ffmpegSession) push(au []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.lastPTS + s.params.FrameDuration()
	if len(s.pending) > 0 {
		pts = s.pending[0]
		s.pending = s.pending[1:]
	}
	s.lastPTS = pts

	s.packets = append(s.packets, &NativePacket{
		Data:     au,
		PTS:      pts,
		DTS:      pts,
		Duration: s.params.FrameDuration(),
		Keyframe: isKeyframeAU(s.codec, au),
	})
}

// SendFrame implements CodecSession.
func (s *ffmpegSession) SendFrame(frame *NativeFrame) error {
	if s.stdin == nil {
		return ErrSessionClosed
	}

	s.mu.Lock()
	s.pending = append(s.pending, frame.PTS)
	s.mu.Unlock()

	for _, plane := range [][]byte{frame.Y, frame.U, frame.V} {
		if _, err := s.stdin.Write(plane); err != nil {
			return fmt.Errorf("write frame to ffmpeg: %w: %s", err, s.stderr.String())
		}
	}
	return nil
}

// ReceivePacket implements CodecSession.
func (s *ffmpegSession) ReceivePacket() (*NativePacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.packets) > 0 {
		pkt := s.packets[0]
		s.packets[0] = nil
		s.packets = s.packets[1:]
		return pkt, nil
	}
	if s.exited {
		if s.readErr != nil {
			return nil, fmt.Errorf("read ffmpeg output: %w", s.readErr)
		}
		return nil, ErrEndOfStream
	}
	return nil, ErrNeedMoreInput
}

// Close implements CodecSession. Output still buffered in ffmpeg is
// discarded.
func (s *ffmpegSession) Close() error {
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil

	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}

	killed := false
	select {
	case <-s.readerDone:
	case <-time.After(ffmpegCloseTimeout):
		cmd.Process.Kill()
		killed = true
		<-s.readerDone
	}

	if err := cmd.Wait(); err != nil && !killed {
		return fmt.Errorf("ffmpeg: %w: %s", err, s.stderr.String())
	}
	return nil
}

func init() {
	if _, err := FindFFmpeg(); err != nil {
		return
	}
	setProviderAvailable(ProviderFFmpeg)
	registerSession(VideoCodecH264, ProviderFFmpeg, newFFmpegSession)
	registerSession(VideoCodecH265, ProviderFFmpeg, newFFmpegSession)
}
