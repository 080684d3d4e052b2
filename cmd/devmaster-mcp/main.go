package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/llm"
	"github.com/loqalabs/devmaster/internal/mcpserver"
	"github.com/loqalabs/devmaster/internal/playback"
	"github.com/loqalabs/devmaster/internal/studio"
	"github.com/loqalabs/devmaster/internal/tts"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		outputDir   string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&outputDir, "output-dir", ".", "Directory for exported WAV files")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(configPath, outputDir, logger); err != nil {
		logger.Error("mcp server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, outputDir string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	generator, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("create text generator: %w", err)
	}
	synth, err := tts.NewSynthesizer(ctx, cfg.TTS)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}

	studioCfg := cfg.Studio
	studioCfg.AutoPlay = false
	studioCfg.IdleTimeoutMS = 0
	manager := studio.NewManager(studio.Options{
		Text:   llm.NewDirect(generator, cfg.LLM),
		Speech: tts.NewDirect(synth, cfg.TTS),
		Output: playback.Discard{},
		Studio: studioCfg,
		TTS:    cfg.TTS,
		Logger: logger,
	})

	server, err := mcpserver.New(mcpserver.Config{
		ServerName:    "devmaster-studio",
		ServerVersion: version,
		OutputDir:     outputDir,
	}, manager, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.Run(ctx)
}
