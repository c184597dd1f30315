// Package langmeta validates language codes and maps them to the forms the
// translation services and the CLI need: display names, emoji flags, DeepL
// language codes and glossary keys.
package langmeta

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes language display metadata.
type Meta struct {
	Code string // canonical BCP 47 form, e.g. "pt-BR"
	// Name is the language's name for itself ("Deutsch").
	Name string
	// English is the English name ("German"), used in model prompts.
	English string
	Flag    string
}

// Parse validates a language code. Underscores are accepted in place of
// hyphens ("pt_BR").
func Parse(code string) (language.Tag, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(code), "_", "-")
	if normalized == "" {
		return language.Und, fmt.Errorf("empty language code")
	}
	tag, err := language.Parse(normalized)
	if err != nil {
		return language.Und, fmt.Errorf("invalid language code %q: %w", code, err)
	}
	return tag, nil
}

// Canonical returns the canonical form of code, or code unchanged when it
// does not parse.
func Canonical(code string) string {
	tag, err := Parse(code)
	if err != nil {
		return code
	}
	return tag.String()
}

// Resolve returns best-effort metadata. Unknown codes pass through as their
// own name without a flag.
func Resolve(code string) Meta {
	tag, err := Parse(code)
	if err != nil {
		return Meta{Code: code, Name: code, English: code}
	}
	m := Meta{
		Code:    tag.String(),
		Name:    display.Self.Name(tag),
		English: display.English.Tags().Name(tag),
		Flag:    flag(tag),
	}
	if m.Name == "" {
		m.Name = m.Code
	}
	if m.English == "" {
		m.English = m.Name
	}
	return m
}

// flag builds the regional indicator pair for the tag's region, inferring
// the most likely region when none is given.
func flag(tag language.Tag) string {
	region, conf := tag.Region()
	if conf == language.No || !region.IsCountry() {
		return ""
	}
	r := region.String()
	if len(r) != 2 {
		return ""
	}
	const base = 0x1F1E6
	return string([]rune{base + rune(r[0]-'A'), base + rune(r[1]-'A')})
}

// ---------------------------------------------------------------------------
// DeepL codes
// ---------------------------------------------------------------------------

// DeepLSource returns the source language code DeepL expects. Source
// languages never carry a region.
func DeepLSource(code string) (string, error) {
	if code == "" {
		return "", nil
	}
	tag, err := Parse(code)
	if err != nil {
		return "", err
	}
	b, _ := tag.Base()
	return strings.ToUpper(b.String()), nil
}

// DeepLTarget returns the target language code DeepL expects. English,
// Portuguese and Chinese need a variant; the rest use the base language.
func DeepLTarget(code string) (string, error) {
	tag, err := Parse(code)
	if err != nil {
		return "", err
	}
	b, _ := tag.Base()
	base := strings.ToUpper(b.String())
	region, conf := tag.Region()
	explicit := conf == language.Exact
	switch base {
	case "EN":
		if explicit && region.String() == "GB" {
			return "EN-GB", nil
		}
		return "EN-US", nil
	case "PT":
		if explicit && region.String() == "BR" {
			return "PT-BR", nil
		}
		return "PT-PT", nil
	case "ZH":
		if s, _ := tag.Script(); s.String() == "Hant" {
			return "ZH-HANT", nil
		}
		return "ZH-HANS", nil
	}
	return base, nil
}

// GlossaryKey is the configuration key of the glossary for a language
// pair, e.g. "en_de" or "en_pt-br".
func GlossaryKey(from, to string) string {
	return strings.ToLower(Canonical(from)) + "_" + strings.ToLower(Canonical(to))
}
