package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loqalabs/devmaster/internal/prompt"
	"github.com/loqalabs/devmaster/internal/studio"
)

type ListOptionsArgs struct{}

type GenerateContentArgs struct {
	RequestType     string `json:"request_type,omitempty" jsonschema:"request type key or label from list_options"`
	TechStack       string `json:"tech_stack,omitempty" jsonschema:"tech stack key or label"`
	Audience        string `json:"audience,omitempty" jsonschema:"target audience key or label"`
	Tone            string `json:"tone,omitempty" jsonschema:"tone of voice key or label"`
	SpecificContext string `json:"specific_context,omitempty" jsonschema:"extra requirements for the model"`
}

type SynthesizeVoiceArgs struct {
	Gender     string `json:"gender,omitempty" jsonschema:"male or female (default female)"`
	Text       string `json:"text,omitempty" jsonschema:"text to speak (defaults to the last generated content)"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"where to write the WAV file"`
}

func (s *Server) handleListOptions(_ context.Context, _ *sdk.CallToolRequest, _ ListOptionsArgs) (*sdk.CallToolResult, any, error) {
	data, err := json.MarshalIndent(prompt.Options(), "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode options: %w", err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
	}, nil, nil
}

func (s *Server) handleGenerateContent(ctx context.Context, _ *sdk.CallToolRequest, args GenerateContentArgs) (*sdk.CallToolResult, any, error) {
	res, err := s.session.GenerateContent(ctx, prompt.Input{
		RequestType:     args.RequestType,
		TechStack:       args.TechStack,
		Audience:        args.Audience,
		Tone:            args.Tone,
		SpecificContext: args.SpecificContext,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("generate content: %w", err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: res.Markdown}},
		IsError: res.Fallback,
	}, nil, nil
}

func (s *Server) handleSynthesizeVoice(ctx context.Context, _ *sdk.CallToolRequest, args SynthesizeVoiceArgs) (*sdk.CallToolResult, any, error) {
	voice, err := s.session.GenerateVoice(ctx, studio.VoiceInput{Gender: args.Gender, Text: args.Text})
	switch {
	case errors.Is(err, studio.ErrNoContent):
		return nil, nil, errors.New("nothing to speak: call generate_content first or pass text")
	case errors.Is(err, studio.ErrNoAudio):
		return nil, nil, errors.New("the speech service produced no audio")
	case err != nil:
		return nil, nil, fmt.Errorf("synthesize voice: %w", err)
	}

	file, err := s.session.Export()
	if err != nil {
		return nil, nil, fmt.Errorf("export wav: %w", err)
	}
	path, err := s.exportPath(args.OutputPath, file.Filename)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(path, file.Data, 0o644); err != nil {
		return nil, nil, fmt.Errorf("write wav: %w", err)
	}
	s.log.Info("voice exported", slog.String("path", path), slog.String("voice", voice.Voice), slog.Int("bytes", len(file.Data)))
	return &sdk.CallToolResult{
		Content: []sdk.Content{
			&sdk.TextContent{Text: path},
			&sdk.TextContent{Text: fmt.Sprintf("Voice: %s, Duration: %.2fs, Sample rate: %d Hz", voice.Voice, voice.Duration.Seconds(), voice.SampleRate)},
		},
	}, nil, nil
}
