// Package llm implements gateway.Translator on top of chat models: any
// OpenAI-compatible endpoint through go-openai, and Google Gemini through
// the genai SDK.
//
// A batch is sent as a JSON array of tagged strings together with a system
// prompt that explains the markers. The model must answer with a JSON array
// of the same length.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/minios-linux/doctrans/gateway"
	"github.com/minios-linux/doctrans/langmeta"
)

// Provider IDs.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// SystemPrompt is the default instruction. {{sourceLang}} and {{targetLang}}
// are replaced with English language names.
const SystemPrompt = `You are a professional translator of technical documents. Translate each string of the JSON array you receive from {{sourceLang}} into {{targetLang}}.

The strings contain numbered markers that stand for formatting:
- <1>...</1> wraps formatted text such as emphasis or a link. Translate the text inside and keep the markers around the corresponding words.
- <2/> stands for an element that must not be translated, such as an image or inline code. Keep it where it belongs in the translated sentence.

Rules:
1. Every marker of a string must appear exactly once in its translation, with the same number. You may move markers to follow the word order of {{targetLang}}, but never nest them differently, drop them or invent new ones.
2. Keep the entities &amp;, &lt; and &gt; as they are.
3. Do not translate URLs, file names or text that is obviously code.
4. Return ONLY a JSON array with exactly as many strings as the input, in the same order. No commentary, no code fences.`

const sourceAuto = "the source language"

// Prompt builds the system and user prompts for a request.
func Prompt(system string, req gateway.Request) (string, string, error) {
	if system == "" {
		system = SystemPrompt
	}
	src := sourceAuto
	if req.SourceLang != "" {
		src = langmeta.Resolve(req.SourceLang).English
	}
	system = strings.ReplaceAll(system, "{{sourceLang}}", src)
	system = strings.ReplaceAll(system, "{{targetLang}}", langmeta.Resolve(req.TargetLang).English)
	switch req.Formality {
	case "more", "prefer_more":
		system += "\n5. Use a formal register."
	case "less", "prefer_less":
		system += "\n5. Use an informal register."
	}

	// Markers must reach the model as written, not as \u003c escapes.
	var texts bytes.Buffer
	enc := json.NewEncoder(&texts)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req.Texts); err != nil {
		return "", "", fmt.Errorf("encoding texts: %w", err)
	}
	var user strings.Builder
	if req.Context != "" {
		user.WriteString("Context (do not translate): ")
		user.WriteString(req.Context)
		user.WriteString("\n\n")
	}
	fmt.Fprintf(&user, "Translate these %d strings:\n", len(req.Texts))
	user.Write(bytes.TrimSpace(texts.Bytes()))
	return system, user.String(), nil
}

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseTranslations extracts a JSON array of strings from a model reply.
// A reply that cannot be used is a transient error: the next attempt
// usually succeeds.
func ParseTranslations(content string, expected int) ([]string, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code blocks if present
	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	// Try to find a JSON array in the response
	startIdx := strings.Index(content, "[")
	endIdx := strings.LastIndex(content, "]")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	var translations []string
	if err := json.Unmarshal([]byte(content), &translations); err != nil {
		return nil, gateway.Transient(0, "reply is not a JSON array of strings: "+gateway.Truncate(content, 300), err)
	}
	if len(translations) != expected {
		return nil, gateway.Transient(0, fmt.Sprintf("got %d translations, expected %d", len(translations), expected), nil)
	}
	return translations, nil
}
