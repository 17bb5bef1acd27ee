// ABOUTME: Builds the system instruction shared by the multimodal adapters
// ABOUTME: Combines persona, local time, speaker, random-talk framing, grounding and URL context

package provider

import "strings"

// nowLayout renders the turn time in the instruction
const nowLayout = "2006/01/02 15:04"

// SystemInstruction assembles the system text for a multimodal turn.
// Now is rendered as-is, so callers pass it already in the bot's timezone.
func SystemInstruction(req *Request) string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(req.Prompt))
	if !req.Now.IsZero() {
		sep(&b)
		b.WriteString("The current date and time is ")
		b.WriteString(req.Now.Format(nowLayout))
		b.WriteString(". Use it only as background and do not mention the time unless asked. Any other date you may know is outdated.")
	}
	if req.SpeakerName != "" {
		sep(&b)
		b.WriteString("The person you are talking to is called ")
		b.WriteString(req.SpeakerName)
		b.WriteString(".")
	}
	if !req.FromMention {
		sep(&b)
		b.WriteString("This message was not addressed to you. The author did not ask for a reply, so answer as someone joining in unprompted.")
	}
	if req.Grounding {
		sep(&b)
		b.WriteString("Answer using Google Search grounding.")
	}
	for _, s := range req.Supplements {
		sep(&b)
		b.WriteString(s)
	}

	return b.String()
}

func sep(b *strings.Builder) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
}
