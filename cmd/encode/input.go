package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/thesyncim/encoder"
)

// frameReader yields I420 frames from an input stream.
type frameReader interface {
	ReadFrame(ctx context.Context) (*encoder.MediaFrame, error)
}

// rawReader reads headerless, tightly packed I420 frames.
type rawReader struct {
	r      io.Reader
	width  int
	height int
	fps    float64
	index  int64
}

func newRawReader(r io.Reader, width, height int, fps float64) *rawReader {
	return &rawReader{r: bufio.NewReaderSize(r, encoder.I420Size(width, height)), width: width, height: height, fps: fps}
}

func (r *rawReader) ReadFrame(context.Context) (*encoder.MediaFrame, error) {
	f := encoder.NewI420Frame(r.width, r.height, frameTimestamp(r.index, r.fps))
	if err := readPlanes(r.r, f); err != nil {
		return nil, err
	}
	r.index++
	return f, nil
}

// y4mHeader is the subset of a YUV4MPEG2 stream header the encoder needs.
type y4mHeader struct {
	Width     int
	Height    int
	FrameRate float64
}

// y4mReader reads YUV4MPEG2 streams with 4:2:0 chroma.
type y4mReader struct {
	r      *bufio.Reader
	header y4mHeader
	index  int64
}

func newY4MReader(r io.Reader) (*y4mReader, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read y4m header: %w", err)
	}
	header, err := parseY4MHeader(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return nil, err
	}
	return &y4mReader{r: br, header: header}, nil
}

func parseY4MHeader(line string) (y4mHeader, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "YUV4MPEG2" {
		return y4mHeader{}, errors.New("not a YUV4MPEG2 stream")
	}

	h := y4mHeader{}
	for _, field := range fields[1:] {
		key, value := field[0], field[1:]
		switch key {
		case 'W':
			h.Width, _ = strconv.Atoi(value)
		case 'H':
			h.Height, _ = strconv.Atoi(value)
		case 'F':
			num, den, ok := strings.Cut(value, ":")
			n, err1 := strconv.Atoi(num)
			d, err2 := strconv.Atoi(den)
			if !ok || err1 != nil || err2 != nil || n <= 0 || d <= 0 {
				return y4mHeader{}, fmt.Errorf("y4m frame rate %q", value)
			}
			h.FrameRate = float64(n) / float64(d)
		case 'C':
			if !strings.HasPrefix(value, "420") {
				return y4mHeader{}, fmt.Errorf("%w: y4m colorspace %s", encoder.ErrNotSupported, value)
			}
		case 'I':
			if value != "p" && value != "?" {
				return y4mHeader{}, fmt.Errorf("%w: y4m interlacing %s", encoder.ErrNotSupported, value)
			}
		}
	}
	if h.Width <= 0 || h.Height <= 0 {
		return y4mHeader{}, fmt.Errorf("y4m dimensions %dx%d", h.Width, h.Height)
	}
	return h, nil
}

func (r *y4mReader) ReadFrame(context.Context) (*encoder.MediaFrame, error) {
	line, err := r.r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read y4m frame header: %w", err)
	}
	if !bytes.HasPrefix(line, []byte("FRAME")) {
		return nil, fmt.Errorf("y4m frame %d: bad frame marker", r.index)
	}

	f := encoder.NewI420Frame(r.header.Width, r.header.Height, frameTimestamp(r.index, r.header.FrameRate))
	if err := readPlanes(r.r, f); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	r.index++
	return f, nil
}

// readPlanes fills the planes of f. A clean end of stream before the first
// byte is io.EOF; a short frame is io.ErrUnexpectedEOF.
func readPlanes(r io.Reader, f *encoder.MediaFrame) error {
	for i, plane := range f.Data {
		if _, err := io.ReadFull(r, plane); err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

func frameTimestamp(index int64, fps float64) int64 {
	if fps <= 0 {
		return 0
	}
	return int64(float64(index) * 1e9 / fps)
}
