// ABOUTME: Fixed registry mapping provider kinds to adapters, credentials and endpoints
// ABOUTME: Also maps named model variants to the endpoint a conversation should remember

package provider

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Credentials holds the API key for each backend. Empty keys disable a backend.
type Credentials struct {
	Gemini        string
	OpenAI        string
	OpenAIBaseURL string
	PLaMo         string
}

// Target is what a resolved provider should be called with
type Target struct {
	Key      string
	Endpoint string
}

type entry struct {
	provider Provider
	key      string
}

// Registry is the fixed set of backends
type Registry struct {
	entries map[Kind]entry
}

// NewRegistry wires every known adapter with its credential
func NewRegistry(creds Credentials, client *http.Client, logger *slog.Logger) *Registry {
	return &Registry{
		entries: map[Kind]entry{
			KindGemini:  {provider: NewGemini(client, logger), key: creds.Gemini},
			KindChatGPT: {provider: NewOpenAI(creds.OpenAIBaseURL, client, logger), key: creds.OpenAI},
			KindPLaMo:   {provider: NewPLaMo(client, logger), key: creds.PLaMo},
		},
	}
}

// NewRegistryWith builds a registry from explicit adapters and keys
func NewRegistryWith(providers map[Kind]Provider, keys map[Kind]string) *Registry {
	r := &Registry{entries: make(map[Kind]entry, len(providers))}
	for k, p := range providers {
		r.entries[k] = entry{provider: p, key: keys[k]}
	}
	return r
}

// Normalize maps the empty kind to the default backend
func Normalize(kind Kind) Kind {
	if kind == "" {
		return KindGemini
	}
	return kind
}

// Resolve returns the adapter for kind and the key and endpoint to call it with.
// endpoint overrides the adapter default when non-empty.
func (r *Registry) Resolve(kind Kind, endpoint string) (Provider, Target, error) {
	kind = Normalize(kind)
	e, ok := r.entries[kind]
	if !ok {
		return nil, Target{}, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
	if e.key == "" {
		return nil, Target{}, fmt.Errorf("%w: %s", ErrMissingCredential, kind)
	}
	return e.provider, Target{Key: e.key, Endpoint: endpoint}, nil
}

// Model variants selectable by directive
const (
	VariantFlash = "flash"
	VariantPro   = "pro"
	VariantGPT4o = "gpt-4o"
)

// VariantEndpoint returns the endpoint override for a named variant of kind,
// or "" if the variant is unknown for that kind.
func VariantEndpoint(kind Kind, variant string) string {
	switch Normalize(kind) {
	case KindGemini:
		switch variant {
		case VariantFlash:
			return GeminiFlashEndpoint
		case VariantPro:
			return GeminiProEndpoint
		}
	case KindChatGPT:
		if variant == VariantGPT4o {
			return OpenAIGPT4oModel
		}
	}
	return ""
}
