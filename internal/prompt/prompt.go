package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// ErrUnknownOption is wrapped by Resolve for values outside the option sets.
var ErrUnknownOption = errors.New("prompt: unknown option")

// Input is the raw form a user submits. Fields hold option keys or labels;
// empty fields fall back to the defaults.
type Input struct {
	RequestType     string `json:"request_type"`
	TechStack       string `json:"tech_stack"`
	Audience        string `json:"audience"`
	Tone            string `json:"tone"`
	SpecificContext string `json:"specific_context"`
}

// Selection is a validated Input with every option resolved.
type Selection struct {
	RequestType     Option
	TechStack       Option
	Audience        Option
	Tone            Option
	SpecificContext string
}

// Prompt is what gets sent to the text model.
type Prompt struct {
	User   string
	System string
}

func DefaultInput() Input {
	return Input{
		RequestType: "fullstack_app",
		TechStack:   "react_node",
		Audience:    "senior",
		Tone:        "expert",
	}
}

// Resolve validates in against the option sets.
func Resolve(in Input) (Selection, error) {
	def := DefaultInput()
	var sel Selection
	var err error
	if sel.RequestType, err = pick("request_type", RequestTypes, in.RequestType, def.RequestType); err != nil {
		return Selection{}, err
	}
	if sel.TechStack, err = pick("tech_stack", TechStacks, in.TechStack, def.TechStack); err != nil {
		return Selection{}, err
	}
	if sel.Audience, err = pick("audience", Audiences, in.Audience, def.Audience); err != nil {
		return Selection{}, err
	}
	if sel.Tone, err = pick("tone", Tones, in.Tone, def.Tone); err != nil {
		return Selection{}, err
	}
	sel.SpecificContext = strings.TrimSpace(in.SpecificContext)
	return sel, nil
}

func pick(field string, set []Option, value, fallback string) (Option, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	opt, ok := lookup(set, value)
	if !ok {
		return Option{}, fmt.Errorf("%w: %s=%q", ErrUnknownOption, field, value)
	}
	return opt, nil
}

var systemTemplate = template.Must(template.New("system").Parse(`
BẠN LÀ: Thien Master AI - Siêu Trí Tuệ Lập Trình & Chiến Lược Gia Nội Dung Số 1 Thế Giới.

NHIỆM VỤ CỐT LÕI:
Tạo ra nội dung hoặc mã nguồn (Code) đẳng cấp cao nhất dựa trên input của người dùng. Bạn phục vụ cho cộng đồng Developer và Tech Business.

PHONG CÁCH TRẢ LỜI:
- Ngôn ngữ: Tiếng Việt 100%.
- Format: Markdown chuyên nghiệp. Sử dụng tiêu đề, bullet points, code blocks rõ ràng.
- Tư duy: Thực chiến, đi thẳng vào vấn đề, tối ưu hóa lợi ích, tư duy "Senior/Architect".

CHIẾN LƯỢC XỬ LÝ THEO LOẠI YÊU CẦU:

1. NẾU LÀ CODE (Fullstack, Tech):
   - Đóng vai: Senior Software Architect.
   - Output: Cấu trúc thư mục chuẩn, Code sạch (Clean Code), Best Practices, bảo mật, hiệu năng cao.
   - Giải thích ngắn gọn tại sao chọn giải pháp này.

2. NẾU LÀ CONTENT (Marketing, Email, Kịch bản):
   - Đóng vai: World-class Copywriter chuyên ngách Tech.
   - Output: Tiêu đề gây sốc (Hook), Nỗi đau (Pain Point), Giải pháp (Solution), Kêu gọi hành động (CTA).
   - Đảm bảo đúng Tone giọng người dùng chọn.

INPUT CONTEXT:
- Loại yêu cầu: {{.RequestType.Label}}
- Công nghệ/Chủ đề: {{.TechStack.Label}}
- Đối tượng đọc: {{.Audience.Label}}
- Tone giọng: {{.Tone.Label}}
- Ghi chú thêm: {{.SpecificContext}}

HÃY BẮT ĐẦU NGAY BÂY GIỜ. KHÔNG NÓI NHẢM. XUẤT RA KẾT QUẢ ĐỈNH CAO.
`))

// Build renders the user turn and system instruction for sel.
func Build(sel Selection) (Prompt, error) {
	var system strings.Builder
	if err := systemTemplate.Execute(&system, sel); err != nil {
		return Prompt{}, fmt.Errorf("render system instruction: %w", err)
	}
	return Prompt{
		User:   fmt.Sprintf("Hãy thực hiện yêu cầu sau đây một cách xuất sắc nhất: %s về %s.", sel.RequestType.Label, sel.TechStack.Label),
		System: system.String(),
	}, nil
}

// FromInput resolves and builds in one step.
func FromInput(in Input) (Prompt, error) {
	sel, err := Resolve(in)
	if err != nil {
		return Prompt{}, err
	}
	return Build(sel)
}
