// ABOUTME: Parses in-text directives that pick a provider, model variant or grounding
// ABOUTME: An ordered token table replaces regex stripping; the residue is the question

package aichat

import (
	"strings"

	"github.com/2389/coven-aichat/internal/provider"
)

// groundingToken asks for search grounding
const groundingToken = "ggg"

// Directives is what a user asked for besides the question itself
type Directives struct {
	Provider  provider.Kind // empty when no provider token was given
	Variant   string
	Grounding bool
	Question  string
}

type directiveToken struct {
	token   string
	kind    provider.Kind
	variant string
}

// Longer tokens come before their prefixes
var directiveTable = []directiveToken{
	{token: "&gemini-flash", kind: provider.KindGemini, variant: provider.VariantFlash},
	{token: "&gemini-pro", kind: provider.KindGemini, variant: provider.VariantPro},
	{token: "&gemini", kind: provider.KindGemini},
	{token: "&chatgpt4", kind: provider.KindChatGPT, variant: provider.VariantGPT4o},
	{token: "&chatgpt", kind: provider.KindChatGPT},
	{token: "&plamo", kind: provider.KindPLaMo},
}

// ParseDirectives extracts directives from text. The first matching provider
// token wins. The keyword, the matched provider token and the grounding
// token are each removed once; everything else is the question.
func ParseDirectives(text, keyword string) Directives {
	var d Directives
	q := text

	if keyword != "" {
		q = removeFold(q, keyword)
	}

	for _, dt := range directiveTable {
		if indexFold(q, dt.token) >= 0 {
			d.Provider = dt.kind
			d.Variant = dt.variant
			q = removeFold(q, dt.token)
			break
		}
	}

	if indexFold(q, groundingToken) >= 0 {
		d.Grounding = true
		q = removeFold(q, groundingToken)
	}

	d.Question = strings.TrimSpace(q)
	return d
}

// indexFold is strings.Index ignoring ASCII case. Offsets are into s, so
// slicing s with them stays valid for any UTF-8 input.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

func removeFold(s, substr string) string {
	i := indexFold(s, substr)
	if i < 0 {
		return s
	}
	return s[:i] + s[i+len(substr):]
}
