// ABOUTME: Tests for in-text directive parsing
// ABOUTME: Provider tokens, variants, grounding and keyword removal

package aichat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-aichat/internal/provider"
)

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		keyword string
		want    Directives
	}{
		{
			name:    "keyword only removed",
			text:    "aichat hello there",
			keyword: "aichat",
			want:    Directives{Question: "hello there"},
		},
		{
			name:    "keyword matched case-insensitively",
			text:    "AIChat hello",
			keyword: "aichat",
			want:    Directives{Question: "hello"},
		},
		{
			name: "gemini pro with grounding",
			text: "&gemini-pro ggg what is new",
			want: Directives{Provider: provider.KindGemini, Variant: provider.VariantPro, Grounding: true, Question: "what is new"},
		},
		{
			name: "gemini flash upper case",
			text: "&GEMINI-FLASH hi",
			want: Directives{Provider: provider.KindGemini, Variant: provider.VariantFlash, Question: "hi"},
		},
		{
			name: "plain gemini",
			text: "&gemini hi",
			want: Directives{Provider: provider.KindGemini, Question: "hi"},
		},
		{
			name: "chatgpt4 before chatgpt",
			text: "&chatgpt4 hi",
			want: Directives{Provider: provider.KindChatGPT, Variant: provider.VariantGPT4o, Question: "hi"},
		},
		{
			name: "chatgpt",
			text: "hi &chatgpt",
			want: Directives{Provider: provider.KindChatGPT, Question: "hi"},
		},
		{
			name: "plamo",
			text: "&plamo こんにちは",
			want: Directives{Provider: provider.KindPLaMo, Question: "こんにちは"},
		},
		{
			name: "grounding alone leaves nothing to ask",
			text: "ggg",
			want: Directives{Grounding: true},
		},
		{
			name:    "keyword and provider only",
			text:    "aichat &plamo",
			keyword: "aichat",
			want:    Directives{Provider: provider.KindPLaMo},
		},
		{
			name: "no directives",
			text: "  just a question  ",
			want: Directives{Question: "just a question"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDirectives(tt.text, tt.keyword))
		})
	}
}

func TestIndexFold(t *testing.T) {
	assert.Equal(t, 0, indexFold("GGG", "ggg"))
	assert.Equal(t, -1, indexFold("gg", "ggg"))
	// offsets are byte offsets into the original string
	assert.Equal(t, len("日本"), indexFold("日本&Plamo", "&plamo"))
	assert.Equal(t, "日本語", removeFold("日本&PLAMO語", "&plamo"))
}
