// Package provider adapts one normalized conversation turn to the wire
// formats of the supported LLM backends.
//
// # Adapters
//
//   - Gemini: generateContent with history, inline attachments and optional
//     Google Search grounding. Grounding citations are folded into the answer.
//   - OpenAI: the Responses API through openai-go, with history and image
//     attachments.
//   - PLaMo: a two-message chat completion. History is not replayed.
//
// Every adapter returns ("", nil) when the backend answered without usable
// text, and an error for transport, status and decoding faults. Callers
// treat both as "no answer".
//
// # Registry
//
// Registry is the fixed set of backends the bot knows. It maps a Kind to
// an adapter and the credential and endpoint to call it with:
//
//	p, target, err := reg.Resolve(provider.KindGemini, "")
//	if errors.Is(err, provider.ErrMissingCredential) {
//	    // reply "unavailable"
//	}
package provider
