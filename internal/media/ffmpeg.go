package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/audio"
)

// FFmpeg wraps the ffmpeg and ffprobe binaries
type FFmpeg struct {
	runner         Runner
	ffmpegPath     string
	ffprobePath    string
	convertTimeout time.Duration
	joinTimeout    time.Duration
}

// FFmpegConfig configures the ffmpeg wrapper
type FFmpegConfig struct {
	FFmpegPath     string
	FFprobePath    string
	ConvertTimeout time.Duration
	JoinTimeout    time.Duration
}

// NewFFmpeg creates an ffmpeg wrapper. A nil runner uses LocalRunner.
func NewFFmpeg(cfg FFmpegConfig, runner Runner) *FFmpeg {
	if runner == nil {
		runner = &LocalRunner{}
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ConvertTimeout == 0 {
		cfg.ConvertTimeout = 30 * time.Second
	}
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = 60 * time.Second
	}
	return &FFmpeg{
		runner:         runner,
		ffmpegPath:     cfg.FFmpegPath,
		ffprobePath:    cfg.FFprobePath,
		convertTimeout: cfg.ConvertTimeout,
		joinTimeout:    cfg.JoinTimeout,
	}
}

// ToWAV converts any input into 16 kHz mono 16-bit PCM WAV
func (f *FFmpeg) ToWAV(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	_, err := f.runner.Run(ctx, CommandRequest{
		Command: f.ffmpegPath,
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", inputPath,
			"-ar", "16000",
			"-ac", "1",
			"-c:a", "pcm_s16le",
			outputPath,
		},
		Timeout: f.convertTimeout,
	})
	if err != nil {
		return apperr.E(apperr.CodeInput, "FFmpeg.ToWAV", "audio could not be decoded", err)
	}
	return nil
}

// Join concatenates parts with the requested silences and re-encodes the result
func (f *FFmpeg) Join(ctx context.Context, parts []audio.Part, outputPath string, enc audio.Encoding) error {
	if len(parts) == 0 {
		return fmt.Errorf("no parts to join")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, JoinArgs(parts, enc)...)
	args = append(args, outputPath)

	if _, err := f.runner.Run(ctx, CommandRequest{Command: f.ffmpegPath, Args: args, Timeout: f.joinTimeout}); err != nil {
		return apperr.E(apperr.CodeInternal, "FFmpeg.Join", "concatenation failed", err)
	}
	return nil
}

// JoinArgs builds the input list and concat filter graph for parts. Silences
// are generated with lavfi anullsrc inputs placed after their part.
func JoinArgs(parts []audio.Part, enc audio.Encoding) []string {
	if enc.SampleRate <= 0 {
		enc.SampleRate = 44100
	}
	if enc.Channels <= 0 {
		enc.Channels = 1
	}
	layout := "mono"
	if enc.Channels == 2 {
		layout = "stereo"
	}

	var inputs []string
	var graph strings.Builder
	var labels []string
	idx := 0

	addInput := func(in ...string) {
		inputs = append(inputs, in...)
		label := fmt.Sprintf("a%d", idx)
		fmt.Fprintf(&graph, "[%d:a]aresample=%d,aformat=channel_layouts=%s[%s];", idx, enc.SampleRate, layout, label)
		labels = append(labels, "["+label+"]")
		idx++
	}

	for _, p := range parts {
		addInput("-i", p.Path)
		if p.SilenceMs > 0 {
			addInput("-f", "lavfi", "-t", formatSeconds(p.SilenceMs),
				"-i", fmt.Sprintf("anullsrc=r=%d:cl=%s", enc.SampleRate, layout))
		}
	}

	fmt.Fprintf(&graph, "%sconcat=n=%d:v=0:a=1[out]", strings.Join(labels, ""), len(labels))

	args := append(inputs, "-filter_complex", graph.String(), "-map", "[out]",
		"-ar", strconv.Itoa(enc.SampleRate),
		"-ac", strconv.Itoa(enc.Channels))
	if enc.Bitrate != "" && enc.Format != "wav" {
		args = append(args, "-b:a", enc.Bitrate)
	}
	return args
}

// Duration returns the container duration in milliseconds using ffprobe
func (f *FFmpeg) Duration(ctx context.Context, path string) (int, error) {
	resp, err := f.runner.Run(ctx, CommandRequest{
		Command: f.ffprobePath,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
		Timeout: f.convertTimeout,
	})
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(resp.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", resp.Stdout, err)
	}
	return int(seconds*1000 + 0.5), nil
}

// HealthCheck verifies both binaries are on PATH
func (f *FFmpeg) HealthCheck(ctx context.Context) (bool, error) {
	for _, bin := range []string{f.ffmpegPath, f.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return false, fmt.Errorf("%s not available: %w", bin, err)
		}
	}
	return true, nil
}

func formatSeconds(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}
