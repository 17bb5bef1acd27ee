// Package bot is the runtime that connects the Misskey stream to the
// conversation engine.
//
// # Event Flow
//
//	stream event (mention | reply)
//	    │
//	    ├─ own note or bot author ──► dropped
//	    ├─ note id seen recently ───► dropped (dedupe)
//	    ├─ friend affinity touched
//	    │
//	    ├─ reply under a subscribed post ──► Service.OnTrackedReply(token)
//	    └─ mention ────────────────────────► Service.OnMention
//	                                            │
//	                                      Replied ──► reaction added
//
// Every event runs in its own goroutine. Misskey sends a reply that also
// mentions the bot twice, so both routes converge on the same note id and
// the second copy is dropped.
//
// # Components
//
// Run starts three loops under one context: the stream reader, the timer
// scheduler that fires conversation timeouts, and random talk when it is
// enabled. Cancelling the context stops all three and waits for in-flight
// events to finish.
package bot
