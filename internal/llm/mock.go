package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	prompt := strings.TrimSpace(req.Prompt)
	parts := []string{
		"# Bản nháp\n\n",
		"> " + prompt + "\n\n",
		"- Mục tiêu: trả lời yêu cầu trên.\n",
		"- Đây là nội dung mẫu từ backend mock.\n",
	}
	for i, p := range parts {
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			Content:   p,
			Partial:   i < len(parts)-1,
			Latency:   20 * time.Millisecond,
			TraceID:   req.TraceID,
		}); err != nil {
			return err
		}
	}
	return nil
}
