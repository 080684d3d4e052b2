// Package mcpserver exposes studio content generation and voice export as
// Model Context Protocol tools.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loqalabs/devmaster/internal/studio"
)

type Config struct {
	ServerName    string
	ServerVersion string
	// OutputDir receives exported WAV files when a call names no path.
	OutputDir string
}

// Server backs every tool call with a single studio session, so a voice
// request speaks the most recently generated content.
type Server struct {
	cfg       Config
	mcpServer *sdk.Server
	studio    *studio.Manager
	session   *studio.Session
	log       *slog.Logger
}

func New(cfg Config, manager *studio.Manager, log *slog.Logger) (*Server, error) {
	session, err := manager.Create()
	if err != nil {
		return nil, fmt.Errorf("open studio session: %w", err)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	s := &Server{
		cfg:     cfg,
		studio:  manager,
		session: session,
		log:     log.With(slog.String("component", "mcp")),
	}
	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdin/stdout until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp server listening on stdio", slog.String("session_id", s.session.ID()))
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) Close() {
	s.studio.Shutdown()
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_options",
		Description: "List the request types, tech stacks, audiences and tones accepted by generate_content",
	}, s.handleListOptions)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "generate_content",
		Description: "Generate Vietnamese developer-marketing content as Markdown",
	}, s.handleGenerateContent)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "synthesize_voice",
		Description: "Read the last generated content (or the given text) aloud and save it as a WAV file",
	}, s.handleSynthesizeVoice)
}

func (s *Server) exportPath(requested, filename string) (string, error) {
	path := requested
	if path == "" {
		path = filepath.Join(s.cfg.OutputDir, filename)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	return path, nil
}
