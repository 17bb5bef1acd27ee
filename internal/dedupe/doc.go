// Package dedupe drops repeated stream events.
//
// Misskey delivers a reply addressed to the bot twice, once on the "reply"
// event and once on the "mention" event, and replays recent events after a
// streaming reconnect. Filter remembers note ids for a TTL so each note is
// handled once.
package dedupe
