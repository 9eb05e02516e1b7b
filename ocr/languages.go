package ocr

import (
	"fmt"
	"strings"
)

// Language is one trained-data set the tool offers.
type Language struct {
	Code       string
	Name       string
	NativeName string
}

// DefaultLanguage is used when Options.Language is empty.
const DefaultLanguage = "eng"

var languages = []Language{
	{"eng", "English", "English"},
	{"jpn", "Japanese", "日本語"},
	{"chi_sim", "Chinese (Simplified)", "简体中文"},
	{"chi_tra", "Chinese (Traditional)", "繁體中文"},
	{"kor", "Korean", "한국어"},
	{"spa", "Spanish", "Español"},
	{"fra", "French", "Français"},
	{"deu", "German", "Deutsch"},
	{"ita", "Italian", "Italiano"},
	{"por", "Portuguese", "Português"},
	{"rus", "Russian", "Русский"},
	{"ara", "Arabic", "العربية"},
	{"hin", "Hindi", "हिन्दी"},
	{"tha", "Thai", "ไทย"},
	{"vie", "Vietnamese", "Tiếng Việt"},
}

// Languages returns the supported languages in display order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// ValidateLanguage normalizes code and checks that it is supported.
func ValidateLanguage(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return DefaultLanguage, nil
	}
	for _, l := range languages {
		if l.Code == code {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
}
