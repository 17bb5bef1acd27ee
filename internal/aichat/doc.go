// Package aichat runs AI conversations on the bot's timeline.
//
// # Lifecycle
//
// A conversation is a row in the store keyed by the post the bot expects a
// reply under (the anchor). Each successful turn posts a reply, removes the
// old row, inserts a new one keyed on the reply and arms the Tracker for it:
//
//	mention ──► Service.OnMention ──► HandleTurn ──► reply posted
//	                                                   │
//	                            store row + subscription + timeout timer
//	                                                   │
//	reply to anchor ──► Service.OnTrackedReply ────────┘ (row removed, turn repeats)
//	timeout ──► Tracker.OnTimeout (row removed, subscription dropped)
//
// RandomTalk starts conversations on its own by picking a note from the
// local timeline, subject to a probability gate and the author's affinity.
//
// # Races
//
// Replies and the timeout of one conversation may run concurrently.
// Removing the row is the claim: RemoveConversation reports whether the
// call deleted it, and only that caller continues the conversation. Every
// other reply gets OutcomeNotFound, and a late timeout evicts nothing.
//
// If arming the new row fails, the row is removed again so no conversation
// is left open without a timeout.
//
// # Directives
//
// Users steer a conversation with tokens anywhere in the text:
//
//	&gemini, &gemini-flash, &gemini-pro   Gemini (optionally a model variant)
//	&chatgpt, &chatgpt4                   OpenAI
//	&plamo                                PLaMo
//	ggg                                   Google Search grounding for the rest of the conversation
package aichat
