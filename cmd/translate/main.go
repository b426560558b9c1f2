package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/audio-translator/internal/app"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/config"
	"github.com/lexiqai/audio-translator/internal/observability"
	"github.com/lexiqai/audio-translator/internal/pipeline"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:          "translate <audio-file>",
		Short:        "Translate a voice message into other languages",
		Long:         "Runs the full pipeline over a local audio file and prints the result as JSON. Backends are configured through the same environment as the server.",
		Version:      version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runTranslate,
	}

	f := c.Flags()
	f.StringSliceP("lang", "l", nil, "target languages (default DEFAULT_TARGET_LANGUAGES)")
	f.String("message-id", "", "message id used in logs and cache metrics")
	f.String("sender-id", "", "sender id stored in a created voice profile")
	f.String("source-lang", "", "source language when the transcriber cannot detect one")
	f.Bool("clone-voice", true, "synthesize with the speakers' cloned voices")
	f.String("profile", "", "JSON file with an existing sender voice profile")
	f.String("tier", "", "translation model tier: basic or premium")
	f.Bool("skip-cache", false, "ignore and do not write cached transcripts and audio")
	f.Bool("progress", false, "log each language as it completes")
	f.String("out", "", "write the result to a file instead of stdout")
	return c
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	flags := cmd.Flags()
	req := pipeline.Request{AudioPath: args[0]}
	req.TargetLanguages, _ = flags.GetStringSlice("lang")
	req.MessageID, _ = flags.GetString("message-id")
	req.SenderID, _ = flags.GetString("sender-id")
	req.SourceLanguage, _ = flags.GetString("source-lang")
	req.ModelTier, _ = flags.GetString("tier")
	req.SkipCache, _ = flags.GetBool("skip-cache")
	if flags.Changed("clone-voice") {
		clone, _ := flags.GetBool("clone-voice")
		req.CloneVoice = &clone
	}
	if path, _ := flags.GetString("profile"); path != "" {
		profile, err := readProfile(path)
		if err != nil {
			return err
		}
		req.SenderProfile = profile
	}
	if progress, _ := flags.GetBool("progress"); progress {
		req.OnTranslationReady = func(lang string, v *pipeline.TranslatedAudioVersion, index, total int) {
			logger.Info().
				Str("language", lang).
				Int("index", index).
				Int("total", total).
				Str("audio_path", v.AudioPath).
				Msg("Translation ready")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Orchestrator.Run(ctx, req)
	if err != nil {
		return err
	}
	out, _ := flags.GetString("out")
	return printResult(out, result)
}

func readProfile(path string) (*capability.VoiceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice profile: %w", err)
	}
	var profile capability.VoiceProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse voice profile: %w", err)
	}
	return &profile, nil
}

func printResult(path string, result *pipeline.PipelineResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
