// Package prompt holds the closed option sets offered to users and renders
// them into the instructions sent to the text model.
package prompt

// Option is one selectable value. Key is stable across releases; Label is what
// the model and the user see.
type Option struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

var RequestTypes = []Option{
	{"fullstack_app", "Lập Trình App Fullstack (Frontend + Backend)"},
	{"niche_strategy", "Chiến Lược Ngách (Coding Niche Strategy)"},
	{"deep_article", "Bài Viết Chuyên Sâu (Technical Deep Dive)"},
	{"email_marketing", "Email Marketing (Bán Khóa Học/Tool)"},
	{"video_script", "Kịch Bản Video (TikTok/YouTube Tech)"},
	{"step_by_step", "Hướng Dẫn Từng Bước (Tutorial)"},
	{"code_review", "Review & Audit Code (Chuyên Gia)"},
	{"conversion_ads", "Quảng Cáo Chuyển Đổi (Ads Copy)"},
}

var TechStacks = []Option{
	{"react_node", "MERN Stack (React, Node.js, MongoDB)"},
	{"next_supabase", "Modern Stack (Next.js, Supabase, Tailwind)"},
	{"python_ai", "AI/Data Stack (Python, FastAPI, PyTorch)"},
	{"flutter_firebase", "Mobile Stack (Flutter, Firebase)"},
	{"solid_rust", "Performance Stack (SolidJS, Rust)"},
	{"blockchain", "Web3 Stack (Solidity, Ethers.js, React)"},
	{"general_concepts", "Tư Duy Lập Trình & Soft Skills"},
}

var Audiences = []Option{
	{"newbie", "Newbie / Người Mới Bắt Đầu"},
	{"junior", "Junior Developer (1-2 năm)"},
	{"senior", "Senior Developer / Tech Lead"},
	{"freelancer", "Freelancer / Solopreneur"},
	{"non_tech", "Khách Hàng Non-Tech / Business Owner"},
	{"recruiter", "Nhà Tuyển Dụng / HR"},
}

var Tones = []Option{
	{"expert", "Chuyên Gia / Authority (Uy tín)"},
	{"witty", "Hài Hước / Gen Z (Dễ tiếp cận)"},
	{"inspirational", "Truyền Cảm Hứng / Mentor"},
	{"fomo", "Gấp Gáp / Bán Hàng (High Conversion)"},
	{"academic", "Hàn Lâm / Giáo Sư (Deep Tech)"},
	{"friendly", "Thân Thiện / Chia Sẻ (Community)"},
}

// Catalog groups every option set for clients building a form.
type Catalog struct {
	RequestTypes []Option `json:"request_types"`
	TechStacks   []Option `json:"tech_stacks"`
	Audiences    []Option `json:"audiences"`
	Tones        []Option `json:"tones"`
}

func Options() Catalog {
	return Catalog{
		RequestTypes: RequestTypes,
		TechStacks:   TechStacks,
		Audiences:    Audiences,
		Tones:        Tones,
	}
}

func lookup(set []Option, key string) (Option, bool) {
	for _, o := range set {
		if o.Key == key || o.Label == key {
			return o, true
		}
	}
	return Option{}, false
}
