package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thesyncim/encoder"
)

const drainPollInterval = 10 * time.Millisecond

type runOptions struct {
	input       string
	inputFormat string
	output      string
	mp4         string
	rtp         string
	rtmp        string
	provider    string
	codec       string
	pattern     string
	frames      int
	realtime    bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Encode raw I420, Y4M or generated frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts.apply(&cfg)
			return runEncode(cmd.Context(), cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "Input file, - for stdin")
	cmd.Flags().StringVar(&opts.inputFormat, "input-format", "", "Input format: raw or y4m (default: from extension)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Annex-B output file, - for stdout")
	cmd.Flags().StringVar(&opts.mp4, "mp4", "", "Fragmented MP4 output file")
	cmd.Flags().StringVar(&opts.rtp, "rtp", "", "RTP destination host:port")
	cmd.Flags().StringVar(&opts.rtmp, "rtmp", "", "RTMP publish URL")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Session provider: auto, native, libav or ffmpeg")
	cmd.Flags().StringVar(&opts.codec, "codec", "", "Codec: h264 or h265")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Generate frames instead of reading input: bars, gradient, checkerboard, noise or box")
	cmd.Flags().IntVar(&opts.frames, "frames", 0, "Stop after this many frames (0 = until input ends)")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "Pace generated frames to the frame rate")

	return cmd
}

// apply overrides config values with the flags that were set.
func (o runOptions) apply(cfg *encoder.FileConfig) {
	if o.output != "" {
		cfg.Output.Path = o.output
	}
	if o.mp4 != "" {
		cfg.Output.MP4 = o.mp4
	}
	if o.rtp != "" {
		cfg.Output.RTP = o.rtp
	}
	if o.rtmp != "" {
		cfg.Output.RTMP = o.rtmp
	}
	if o.provider != "" {
		cfg.Encoder.Provider = o.provider
	}
	if o.codec != "" {
		cfg.Encoder.Codec = o.codec
	}
}

func (o runOptions) format() string {
	if o.pattern != "" {
		return "pattern"
	}
	if o.inputFormat != "" {
		return strings.ToLower(o.inputFormat)
	}
	if strings.EqualFold(filepath.Ext(o.input), ".y4m") {
		return "y4m"
	}
	return "raw"
}

func runEncode(ctx context.Context, cfg encoder.FileConfig, opts runOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var frames frameReader
	if opts.format() == "pattern" {
		src, err := newPatternReader(opts, &cfg)
		if err != nil {
			return err
		}
		frames = src
	} else {
		in, err := openInput(opts.input)
		if err != nil {
			return err
		}
		defer in.Close()

		frames, err = newFrameReader(opts.format(), in, &cfg)
		if err != nil {
			return err
		}
		if opts.frames > 0 {
			frames = &limitReader{r: frames, n: opts.frames}
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}

	sink, err := buildSinks(cfg, stdout, logger)
	if err != nil {
		return err
	}

	ec := cfg.EncodingContext()
	encCfg := cfg.EncoderConfig()
	encCfg.Sink = sink
	encCfg.Logger = logger
	enc := encoder.New(encCfg)

	if err := enc.Configure(ctx, ec); err != nil {
		sink.Close()
		return err
	}

	started := time.Now()
	readErr := feed(ctx, enc, frames)
	if readErr == nil {
		waitDrained(ctx, enc)
	}
	closeErr := enc.Close()

	stats := enc.Stats()
	fmt.Fprintln(stderr, renderStats(stats, time.Since(started)))

	switch {
	case enc.Err() != nil:
		return enc.Err()
	case readErr != nil:
		return readErr
	default:
		return closeErr
	}
}

// feed enqueues frames until the input ends, ctx is done or the encoder
// faults.
func feed(ctx context.Context, enc *encoder.Encoder, frames frameReader) error {
	for {
		f, err := frames.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Enqueue(ctx, f); err != nil {
			return err
		}
	}
}

// waitDrained returns once the worker has taken every queued frame.
func waitDrained(ctx context.Context, enc *encoder.Encoder) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for enc.QueueLen() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-enc.Done():
			return
		case <-ticker.C:
		}
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// newFrameReader creates the reader for format. Y4M streams carry their own
// geometry and rate, which replace the configured values.
func newFrameReader(format string, r io.Reader, cfg *encoder.FileConfig) (frameReader, error) {
	switch format {
	case "y4m":
		y, err := newY4MReader(r)
		if err != nil {
			return nil, err
		}
		cfg.Encoder.Width = y.header.Width
		cfg.Encoder.Height = y.header.Height
		if y.header.FrameRate > 0 {
			cfg.Encoder.FrameRate = y.header.FrameRate
		}
		cfg.Encoder.PixelFormat = "i420"
		return y, nil
	case "raw":
		fps := cfg.Encoder.FrameRate
		if fps <= 0 {
			fps = cfg.Encoder.EstimatedFrameRate
		}
		cfg.Encoder.PixelFormat = "i420"
		return newRawReader(r, cfg.Encoder.Width, cfg.Encoder.Height, fps), nil
	default:
		return nil, fmt.Errorf("input format %q must be raw or y4m", format)
	}
}

// newPatternReader creates a generator sized to the configured geometry.
func newPatternReader(opts runOptions, cfg *encoder.FileConfig) (*encoder.PatternSource, error) {
	pattern, err := encoder.ParsePatternType(opts.pattern)
	if err != nil {
		return nil, err
	}
	fps := cfg.Encoder.FrameRate
	if fps <= 0 {
		fps = cfg.Encoder.EstimatedFrameRate
	}
	src := encoder.NewPatternSource(encoder.PatternConfig{
		Width:     cfg.Encoder.Width,
		Height:    cfg.Encoder.Height,
		FrameRate: fps,
		Pattern:   pattern,
		Frames:    opts.frames,
		Realtime:  opts.realtime,
	})
	eff := src.Config()
	cfg.Encoder.Width, cfg.Encoder.Height = eff.Width, eff.Height
	cfg.Encoder.PixelFormat = "i420"
	return src, nil
}

// limitReader stops r after n frames.
type limitReader struct {
	r frameReader
	n int
}

func (l *limitReader) ReadFrame(ctx context.Context) (*encoder.MediaFrame, error) {
	if l.n <= 0 {
		return nil, io.EOF
	}
	l.n--
	return l.r.ReadFrame(ctx)
}

// buildSinks opens every configured output. With none configured the
// Annex-B stream goes to stdout.
func buildSinks(cfg encoder.FileConfig, stdout io.Writer, logger *slog.Logger) (encoder.MultiSink, error) {
	var sinks encoder.MultiSink
	fail := func(err error) (encoder.MultiSink, error) {
		sinks.Close()
		return nil, err
	}

	out := cfg.Output
	if out.Path == "" && out.MP4 == "" && out.RTP == "" && out.RTMP == "" {
		out.Path = "-"
	}

	if out.Path != "" {
		if out.Path == "-" {
			sinks = append(sinks, encoder.NewAnnexBSink(writerOnly{stdout}))
		} else {
			f, err := os.Create(out.Path)
			if err != nil {
				return fail(fmt.Errorf("create output: %w", err))
			}
			sinks = append(sinks, encoder.NewAnnexBSink(f))
		}
	}
	if out.MP4 != "" {
		f, err := os.Create(out.MP4)
		if err != nil {
			return fail(fmt.Errorf("create mp4 output: %w", err))
		}
		sinks = append(sinks, encoder.NewMP4Sink(f, cfg.Encoder.Width, cfg.Encoder.Height))
	}
	if out.RTP != "" {
		w, err := encoder.DialUDP(out.RTP)
		if err != nil {
			return fail(err)
		}
		s, err := encoder.NewRTPSink(encoder.RTPSinkConfig{Codec: encoder.ParseVideoCodec(cfg.Encoder.Codec)}, w)
		if err != nil {
			w.Close()
			return fail(err)
		}
		logger.Info("sending RTP", "remote", out.RTP, "local", w.LocalAddr().String())
		sinks = append(sinks, s)
	}
	if out.RTMP != "" {
		s, err := encoder.DialRTMP(out.RTMP, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// writerOnly hides Close so AnnexBSink leaves stdout open.
type writerOnly struct {
	io.Writer
}

func renderStats(s encoder.EncoderStats, elapsed time.Duration) string {
	fps := 0.0
	if elapsed > 0 {
		fps = float64(s.FramesSubmitted) / elapsed.Seconds()
	}
	rows := [][]string{
		{"Frames enqueued", humanize.Comma(int64(s.FramesEnqueued))},
		{"Frames encoded", humanize.Comma(int64(s.FramesSubmitted))},
		{"Frames dropped", humanize.Comma(int64(s.FramesDropped + s.FramesRejected))},
		{"Packets", humanize.Comma(int64(s.PacketsEmitted))},
		{"Keyframes", humanize.Comma(int64(s.KeyframesEmitted))},
		{"Output", humanize.Bytes(s.BytesEmitted)},
		{"Errors", humanize.Comma(int64(s.SubmitErrors + s.PacketConversionErrors + s.SinkErrors))},
		{"Elapsed", elapsed.Round(time.Millisecond).String()},
		{"Speed", fmt.Sprintf("%.1f fps", fps)},
	}
	return renderTable([]string{"Stat", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
