package media

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/audio"
)

type fakeRunner struct {
	requests []CommandRequest
	resp     CommandResponse
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func TestFFmpeg_ToWAV(t *testing.T) {
	runner := &fakeRunner{}
	ff := NewFFmpeg(FFmpegConfig{ConvertTimeout: 30 * time.Second}, runner)

	out := filepath.Join(t.TempDir(), "out.wav")
	if err := ff.ToWAV(context.Background(), "in.m4a", out); err != nil {
		t.Fatalf("ToWAV failed: %v", err)
	}

	if len(runner.requests) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(runner.requests))
	}
	req := runner.requests[0]
	args := strings.Join(req.Args, " ")
	if !strings.Contains(args, "-i in.m4a -ar 16000 -ac 1") {
		t.Errorf("Expected 16k mono conversion args, got %s", args)
	}
	if req.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", req.Timeout)
	}
}

func TestFFmpeg_ToWAVFailureIsInputError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ffmpeg exited with code 1: Invalid data found")}
	ff := NewFFmpeg(FFmpegConfig{}, runner)

	err := ff.ToWAV(context.Background(), "garbage.bin", filepath.Join(t.TempDir(), "out.wav"))
	if !apperr.IsCode(err, apperr.CodeInput) {
		t.Errorf("Expected INPUT error, got %v", err)
	}
}

func TestJoinArgs(t *testing.T) {
	parts := []audio.Part{
		{Path: "a.wav", SilenceMs: 300},
		{Path: "b.wav"},
	}
	args := JoinArgs(parts, audio.DefaultEncoding())
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-i a.wav -f lavfi -t 0.300 -i anullsrc=r=44100:cl=mono -i b.wav") {
		t.Errorf("Expected interleaved inputs, got %s", joined)
	}
	if !strings.Contains(joined, "[a0][a1][a2]concat=n=3:v=0:a=1[out]") {
		t.Errorf("Expected three-input concat, got %s", joined)
	}
	if !strings.Contains(joined, "-ar 44100 -ac 1 -b:a 128k") {
		t.Errorf("Expected output encoding args, got %s", joined)
	}
}

func TestJoinArgs_WAVSkipsBitrate(t *testing.T) {
	args := JoinArgs([]audio.Part{{Path: "a.wav"}}, audio.Encoding{Format: "wav", SampleRate: 16000, Channels: 1, Bitrate: "128k"})
	if strings.Contains(strings.Join(args, " "), "-b:a") {
		t.Error("Expected no bitrate for PCM output")
	}
}

func TestFFmpeg_Duration(t *testing.T) {
	runner := &fakeRunner{resp: CommandResponse{Stdout: "12.3456\n"}}
	ff := NewFFmpeg(FFmpegConfig{}, runner)

	ms, err := ff.Duration(context.Background(), "x.mp3")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if ms != 12346 {
		t.Errorf("Expected 12346ms, got %d", ms)
	}
	if runner.requests[0].Command != "ffprobe" {
		t.Errorf("Expected ffprobe, got %s", runner.requests[0].Command)
	}
}

func TestFFmpeg_JoinEmpty(t *testing.T) {
	ff := NewFFmpeg(FFmpegConfig{}, &fakeRunner{})
	if err := ff.Join(context.Background(), nil, "out.mp3", audio.DefaultEncoding()); err == nil {
		t.Error("Expected error for empty parts")
	}
}

func TestLocalRunner_MissingBinary(t *testing.T) {
	r := &LocalRunner{}
	if _, err := r.Run(context.Background(), CommandRequest{Command: "definitely-not-a-real-binary-xyz"}); err == nil {
		t.Error("Expected error for missing binary")
	}
}
