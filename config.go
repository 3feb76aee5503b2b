package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration of an encoder, in YAML or TOML.
type FileConfig struct {
	Encoder EncoderSection `yaml:"encoder" toml:"encoder"`
	Queue   QueueSection   `yaml:"queue" toml:"queue"`
	Output  OutputSection  `yaml:"output" toml:"output"`
	Logging LoggingSection `yaml:"logging" toml:"logging"`
}

// EncoderSection mirrors EncodingContext plus session selection.
type EncoderSection struct {
	Codec              string  `yaml:"codec" toml:"codec"`
	Provider           string  `yaml:"provider" toml:"provider"`
	FrameRate          float64 `yaml:"frame_rate" toml:"frame_rate"`
	EstimatedFrameRate float64 `yaml:"estimated_frame_rate" toml:"estimated_frame_rate"`
	Bitrate            int64   `yaml:"bitrate" toml:"bitrate"`
	Width              int     `yaml:"video_width" toml:"video_width"`
	Height             int     `yaml:"video_height" toml:"video_height"`
	Preset             string  `yaml:"preset" toml:"preset"`
	ThreadCount        int     `yaml:"thread_count" toml:"thread_count"`
	PixelFormat        string  `yaml:"pixel_format" toml:"pixel_format"`
	StartTimeout       string  `yaml:"start_timeout" toml:"start_timeout"` // Go duration, e.g. "5s"
}

// QueueSection configures the frame queue.
type QueueSection struct {
	Capacity     int    `yaml:"capacity" toml:"capacity"`
	Backpressure string `yaml:"backpressure" toml:"backpressure"` // block|reject|drop-oldest
}

// OutputSection selects packet destinations. Empty fields are disabled.
type OutputSection struct {
	Path string `yaml:"path" toml:"path"` // Annex-B file, "-" for stdout
	MP4  string `yaml:"mp4" toml:"mp4"`   // Fragmented MP4 file (H.264)
	RTP  string `yaml:"rtp" toml:"rtp"`   // host:port
	RTMP string `yaml:"rtmp" toml:"rtmp"` // rtmp://host/app/key (H.264)
}

// LoggingSection configures log output.
type LoggingSection struct {
	Level  string `yaml:"level" toml:"level"`   // debug|info|warn|error
	Format string `yaml:"format" toml:"format"` // auto|text|json
}

// DefaultFileConfig returns a FileConfig with default values.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Encoder: EncoderSection{
			Codec:              "h264",
			Provider:           "auto",
			EstimatedFrameRate: 30,
			Bitrate:            2_000_000,
			Width:              1280,
			Height:             720,
			Preset:             "faster",
			PixelFormat:        "i420",
			StartTimeout:       DefaultStartTimeout.String(),
		},
		Queue: QueueSection{
			Capacity:     DefaultQueueCapacity,
			Backpressure: "block",
		},
		Logging: LoggingSection{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadConfig reads path over the defaults. The format follows the file
// extension: .yaml/.yml or .toml. Unknown keys are rejected.
func LoadConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}

	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	case ".toml":
		format = "toml"
	default:
		return FileConfig{}, fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
	}

	cfg, err := ParseConfig(bytes.NewReader(data), format)
	if err != nil {
		return FileConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a "yaml" or "toml" document over the defaults.
func ParseConfig(r io.Reader, format string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return FileConfig{}, fmt.Errorf("decode yaml: %w", err)
		}
	case "toml":
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return FileConfig{}, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return FileConfig{}, fmt.Errorf("unsupported config format %q", format)
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *FileConfig) Validate() error {
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *FileConfig) validateEncoder() error {
	e := c.Encoder
	if ParseVideoCodec(e.Codec) == VideoCodecUnknown {
		return fmt.Errorf("encoder.codec %q must be h264 or h265", e.Codec)
	}
	if e.Provider != "" && e.Provider != "auto" && ParseProvider(e.Provider) == ProviderAuto {
		return fmt.Errorf("encoder.provider %q is unknown", e.Provider)
	}
	if e.FrameRate < 0 {
		return errors.New("encoder.frame_rate must be >= 0")
	}
	if e.FrameRate == 0 && e.EstimatedFrameRate <= 0 {
		return errors.New("encoder.estimated_frame_rate must be > 0 when frame_rate is 0")
	}
	if e.Bitrate <= 0 {
		return errors.New("encoder.bitrate must be > 0")
	}
	if e.Width <= 0 || e.Height <= 0 {
		return errors.New("encoder.video_width and encoder.video_height must be > 0")
	}
	if e.ThreadCount < 0 {
		return errors.New("encoder.thread_count must be >= 0")
	}
	switch strings.ToLower(e.PixelFormat) {
	case "", "i420", "yuv420p", "nv12":
	default:
		return fmt.Errorf("encoder.pixel_format %q must be i420 or nv12", e.PixelFormat)
	}
	if e.StartTimeout != "" {
		if d, err := time.ParseDuration(e.StartTimeout); err != nil || d < 0 {
			return fmt.Errorf("encoder.start_timeout %q is not a valid duration", e.StartTimeout)
		}
	}
	return nil
}

func (c *FileConfig) validateQueue() error {
	if c.Queue.Capacity < 0 {
		return errors.New("queue.capacity must be >= 0")
	}
	switch c.Queue.Backpressure {
	case "", "block", "reject", "drop-oldest", "drop_oldest":
		return nil
	default:
		return fmt.Errorf("queue.backpressure %q must be block, reject or drop-oldest", c.Queue.Backpressure)
	}
}

func (c *FileConfig) validateOutput() error {
	codec := ParseVideoCodec(c.Encoder.Codec)
	if c.Output.MP4 != "" && codec != VideoCodecH264 {
		return errors.New("output.mp4 requires encoder.codec h264")
	}
	if c.Output.RTMP != "" {
		if codec != VideoCodecH264 {
			return errors.New("output.rtmp requires encoder.codec h264")
		}
		if !strings.HasPrefix(c.Output.RTMP, "rtmp://") {
			return fmt.Errorf("output.rtmp %q must be an rtmp:// URL", c.Output.RTMP)
		}
	}
	return nil
}

func (c *FileConfig) validateLogging() error {
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "auto", "text", "json":
		return nil
	default:
		return fmt.Errorf("logging.format %q must be auto, text or json", c.Logging.Format)
	}
}

// EncodingContext returns the encoding request described by the config.
func (c *FileConfig) EncodingContext() EncodingContext {
	return EncodingContext{
		Codec:              ParseVideoCodec(c.Encoder.Codec),
		FrameRate:          c.Encoder.FrameRate,
		EstimatedFrameRate: c.Encoder.EstimatedFrameRate,
		Bitrate:            c.Encoder.Bitrate,
		Width:              c.Encoder.Width,
		Height:             c.Encoder.Height,
		Preset:             c.Encoder.Preset,
		ThreadCount:        c.Encoder.ThreadCount,
		PixelFormat:        ParsePixelFormat(strings.ToLower(c.Encoder.PixelFormat)),
	}
}

// EncoderConfig returns the Encoder configuration described by the config.
// Sink, Logger and OnFault are left for the caller.
func (c *FileConfig) EncoderConfig() Config {
	timeout, _ := time.ParseDuration(c.Encoder.StartTimeout)
	return Config{
		Provider:      ParseProvider(c.Encoder.Provider),
		QueueCapacity: c.Queue.Capacity,
		Backpressure:  ParseBackpressurePolicy(c.Queue.Backpressure),
		StartTimeout:  timeout,
	}
}

// ParseLogLevel maps a level name to a slog.Level. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q must be debug, info, warn or error", s)
	}
}
