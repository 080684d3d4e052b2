package prompt

import (
	"errors"
	"strings"
	"testing"
)

func TestFromInputDefaults(t *testing.T) {
	p, err := FromInput(Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantUser := "Hãy thực hiện yêu cầu sau đây một cách xuất sắc nhất: Lập Trình App Fullstack (Frontend + Backend) về MERN Stack (React, Node.js, MongoDB)."
	if p.User != wantUser {
		t.Fatalf("unexpected user prompt: %q", p.User)
	}
	for _, want := range []string{
		"- Loại yêu cầu: Lập Trình App Fullstack (Frontend + Backend)",
		"- Đối tượng đọc: Senior Developer / Tech Lead",
		"- Tone giọng: Chuyên Gia / Authority (Uy tín)",
	} {
		if !strings.Contains(p.System, want) {
			t.Errorf("system instruction missing %q", want)
		}
	}
}

func TestFromInputAcceptsKeysAndLabels(t *testing.T) {
	p, err := FromInput(Input{
		RequestType:     "video_script",
		TechStack:       "AI/Data Stack (Python, FastAPI, PyTorch)",
		Audience:        "freelancer",
		Tone:            "witty",
		SpecificContext: "  Khóa học AI cho người mới  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(p.User, "Kịch Bản Video") || !strings.Contains(p.User, "AI/Data Stack") {
		t.Fatalf("unexpected user prompt: %q", p.User)
	}
	if !strings.Contains(p.System, "- Ghi chú thêm: Khóa học AI cho người mới\n") {
		t.Fatalf("context not trimmed into system instruction:\n%s", p.System)
	}
	if !strings.Contains(p.System, "Hài Hước / Gen Z") {
		t.Fatal("tone label missing")
	}
}

func TestResolveRejectsUnknown(t *testing.T) {
	_, err := Resolve(Input{Tone: "sarcastic"})
	if !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if !strings.Contains(err.Error(), "tone") {
		t.Fatalf("expected field name in error: %v", err)
	}
}

func TestOptionKeysUnique(t *testing.T) {
	cat := Options()
	for name, set := range map[string][]Option{
		"request_types": cat.RequestTypes,
		"tech_stacks":   cat.TechStacks,
		"audiences":     cat.Audiences,
		"tones":         cat.Tones,
	} {
		seen := map[string]bool{}
		for _, o := range set {
			if seen[o.Key] {
				t.Errorf("%s: duplicate key %q", name, o.Key)
			}
			seen[o.Key] = true
		}
	}
}
