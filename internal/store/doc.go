// Package store provides persistent storage for the bot using SQLite.
//
// # Architecture
//
// The store package uses one small interface per concern:
//
//   - ConversationStore: open conversations keyed by anchor post id
//   - TimerStore: persisted one-shot timers
//   - SubscriptionStore: reply subscriptions (anchor post -> token)
//   - FriendStore: per-user affinity ("love")
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory twin used by tests in other packages.
//
// # Conversations
//
// A Conversation row exists while the bot waits for a reply under its
// anchor post. Each turn replaces the row: the caller removes the old
// anchor and inserts a new one keyed on the bot's latest reply.
//
//	conv, err := s.FindConversation(ctx, noteID)
//	if err == store.ErrNotFound {
//	    // not in a tracked conversation
//	}
//
// InsertConversation returns ErrDuplicateKey when the anchor is taken.
// RemoveConversation is idempotent and reports whether it deleted the row;
// a caller continuing a conversation proceeds only when it did.
//
// # Timers
//
// Timers carry an opaque JSON payload and a kind used for dispatch. They
// are stored so that the timer scheduler can re-arm them after a restart.
//
// # Time Format
//
// All timestamps are stored as fixed-width RFC3339 strings in UTC with
// nanosecond precision, so ORDER BY on them is chronological.
package store
