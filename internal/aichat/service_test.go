// ABOUTME: Tests for the turn orchestrator and its mention and reply hooks
// ABOUTME: Uses in-memory fakes for the Misskey API, subscriptions, timers and providers

package aichat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-aichat/internal/misskey"
	"github.com/2389/coven-aichat/internal/provider"
	"github.com/2389/coven-aichat/internal/store"
)

func TestOnMention_StartsConversation(t *testing.T) {
	h := newHarness(t, Options{Keyword: "aichat", Prompt: "be kind"})
	ctx := context.Background()

	outcome, err := h.svc.OnMention(ctx, textNote("n1", "alice", "@ai aichat hello"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	replies := h.notes.posted()
	require.Len(t, replies, 1)
	assert.Equal(t, "n1", replies[0].to)
	assert.Equal(t, "gemini answer\n\n(gemini) #aichat", replies[0].text)

	req := h.gemini.last(t)
	assert.Equal(t, "hello", req.Question)
	assert.Equal(t, "be kind", req.Prompt)
	assert.Equal(t, "g-key", req.Key)
	assert.Empty(t, req.Endpoint)
	assert.Empty(t, req.History)
	assert.Equal(t, "alice", req.SpeakerName)
	assert.True(t, req.FromMention)
	assert.False(t, req.Grounding)
	assert.True(t, req.Now.Equal(time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)))

	// the mention itself is never stored; the bot's reply anchors the conversation
	assert.Nil(t, h.conversation(t, "n1"))
	conv := h.conversation(t, "reply-1")
	require.NotNil(t, conv)
	assert.Equal(t, "gemini", conv.Provider)
	assert.True(t, conv.FromMention)
	assert.Equal(t, []store.HistoryEntry{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleModel, Content: "gemini answer"},
	}, conv.History)

	assert.Equal(t, map[string]string{"reply-1": "reply-1"}, h.subs.active)
	require.Len(t, h.timers.scheduled, 1)
	assert.Equal(t, TimeoutKind, h.timers.scheduled[0].kind)
	assert.Equal(t, DefaultReplyTimeout, h.timers.scheduled[0].delay)
	assert.Equal(t, timeoutPayload{ID: "reply-1"}, h.timers.scheduled[0].payload)
}

func TestOnMention_RequiresKeyword(t *testing.T) {
	h := newHarness(t, Options{Keyword: "aichat"})

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai hello"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, h.gemini.calls())
	assert.Empty(t, h.notes.posted())
}

func TestOnMention_EmptyKeywordAcceptsAll(t *testing.T) {
	h := newHarness(t, Options{})

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai hello"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)
}

func TestOnMention_InsideOpenConversationIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.store.InsertConversation(ctx, &store.Conversation{AnchorPostID: "reply-9"}))
	h.notes.conversations["n2"] = []misskey.Note{{ID: "reply-9"}, {ID: "n1"}}

	outcome, err := h.svc.OnMention(ctx, textNote("n2", "alice", "@ai again"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.notes.posted())
	assert.NotNil(t, h.conversation(t, "reply-9"))
}

func TestOnMention_QuoteSeedsHistory(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.notes.notes["q1"] = textNote("q1", "bob", "quoted text")

	note := textNote("n1", "alice", "@ai what about this")
	quoteID := "q1"
	note.RenoteID = &quoteID

	outcome, err := h.svc.OnMention(ctx, note)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	req := h.gemini.last(t)
	require.Len(t, req.History, 1)
	assert.Equal(t, provider.RoleUser, req.History[0].Role)
	assert.Contains(t, req.History[0].Content, "quoted text")

	conv := h.conversation(t, "reply-1")
	require.NotNil(t, conv)
	assert.Len(t, conv.History, 3)
}

func TestOnTrackedReply_ContinuesConversation(t *testing.T) {
	h := newHarness(t, Options{Keyword: "aichat"})
	ctx := context.Background()

	_, err := h.svc.OnMention(ctx, textNote("n1", "alice", "@ai aichat hello"))
	require.NoError(t, err)

	h.gemini.answer = "second answer"
	reply := textNote("n2", "alice", "@ai tell me more")
	parent := "reply-1"
	reply.ReplyID = &parent
	h.notes.conversations["n2"] = []misskey.Note{{ID: "reply-1"}, {ID: "n1"}}

	outcome, err := h.svc.OnTrackedReply(ctx, "reply-1", reply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	req := h.gemini.last(t)
	assert.Equal(t, "tell me more", req.Question)
	assert.Equal(t, []provider.Turn{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleModel, Content: "gemini answer"},
	}, req.History)

	assert.Nil(t, h.conversation(t, "reply-1"))
	conv := h.conversation(t, "reply-2")
	require.NotNil(t, conv)
	assert.Len(t, conv.History, 4)
	assert.Equal(t, "second answer", conv.History[3].Content)

	assert.Contains(t, h.subs.unsubscribed, "reply-1")
	assert.Equal(t, map[string]string{"reply-2": "reply-2"}, h.subs.active)
	assert.Len(t, h.timers.scheduled, 2)
	assert.Equal(t, []string{"timer-1"}, h.timers.cancelled)
}

// findBarrier holds every successful FindConversation until all expected
// callers have found their record, so they all race on the removal.
type findBarrier struct {
	*store.MockStore
	arrived sync.WaitGroup
}

func (b *findBarrier) FindConversation(ctx context.Context, postID string) (*store.Conversation, error) {
	c, err := b.MockStore.FindConversation(ctx, postID)
	if err == nil {
		b.arrived.Done()
		b.arrived.Wait()
	}
	return c, err
}

func TestOnTrackedReply_ConcurrentRepliesContinueOnce(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.svc.OnMention(ctx, textNote("n1", "alice", "@ai hello"))
	require.NoError(t, err)

	barrier := &findBarrier{MockStore: h.store}
	barrier.arrived.Add(2)
	h.svc.convs = barrier

	parent := "reply-1"
	replies := []*misskey.Note{
		textNote("n2", "alice", "first follow-up"),
		textNote("n3", "bob", "second follow-up"),
	}
	for _, r := range replies {
		r.ReplyID = &parent
		h.notes.conversations[r.ID] = []misskey.Note{{ID: "reply-1"}, {ID: "n1"}}
	}

	outcomes := make([]Outcome, len(replies))
	var wg sync.WaitGroup
	for i, r := range replies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.svc.OnTrackedReply(ctx, "reply-1", r)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []Outcome{OutcomeReplied, OutcomeNotFound}, outcomes)
	assert.Equal(t, 2, h.gemini.calls(), "only one reply may reach the provider")
	assert.Len(t, h.notes.posted(), 2)

	convs, err := h.store.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1, "one lineage must stay one open record")
	assert.Equal(t, "reply-2", convs[0].AnchorPostID)
	assert.Len(t, convs[0].History, 4)
}

func TestOnTrackedReply_AfterTimeoutIsNotFound(t *testing.T) {
	h := newHarness(t, Options{})
	reply := textNote("n2", "alice", "anyone there?")
	h.notes.conversations["n2"] = []misskey.Note{{ID: "reply-1"}}

	outcome, err := h.svc.OnTrackedReply(context.Background(), "reply-1", reply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.Empty(t, h.notes.posted())
	assert.Zero(t, h.gemini.calls())
}

func TestOnTrackedReply_EmptyTextIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	note := &misskey.Note{ID: "n2", UserID: "alice"}

	outcome, err := h.svc.OnTrackedReply(context.Background(), "reply-1", note)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestHandleTurn_HistoryIsCapped(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	var history []store.HistoryEntry
	for i := 0; i < MaxHistory; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleModel
		}
		history = append(history, store.HistoryEntry{Role: role, Content: fmt.Sprintf("h%d", i)})
	}
	require.NoError(t, h.store.InsertConversation(ctx, &store.Conversation{AnchorPostID: "a1", History: history}))
	h.notes.conversations["n2"] = []misskey.Note{{ID: "a1"}}

	outcome, err := h.svc.OnTrackedReply(ctx, "a1", textNote("n2", "alice", "next"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	assert.Len(t, h.gemini.last(t).History, MaxHistory)

	conv := h.conversation(t, "reply-1")
	require.NotNil(t, conv)
	require.Len(t, conv.History, MaxHistory)
	assert.Equal(t, "h2", conv.History[0].Content)
	assert.Equal(t, store.HistoryEntry{Role: store.RoleUser, Content: "next"}, conv.History[MaxHistory-2])
	assert.Equal(t, store.HistoryEntry{Role: store.RoleModel, Content: "gemini answer"}, conv.History[MaxHistory-1])
}

func TestHandleTurn_ProviderFailurePostsNotice(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
	}{
		{name: "error", err: errors.New("boom")},
		{name: "empty answer", answer: "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.gemini.answer = tt.answer
			h.gemini.err = tt.err

			outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai hello"))
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, outcome)

			replies := h.notes.posted()
			require.Len(t, replies, 1)
			assert.Equal(t, errorMessage(provider.KindGemini), replies[0].text)
			assert.Zero(t, h.store.ConversationCount())
			assert.Empty(t, h.subs.active)
			assert.Empty(t, h.timers.scheduled)
		})
	}
}

func TestHandleTurn_MissingCredentialPostsUnavailable(t *testing.T) {
	h := newHarness(t, Options{})

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai &chatgpt hello"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	replies := h.notes.posted()
	require.Len(t, replies, 1)
	assert.Equal(t, unavailableMessage(provider.KindChatGPT), replies[0].text)
	assert.Zero(t, h.gemini.calls())
	assert.Zero(t, h.store.ConversationCount())
}

func TestHandleTurn_NothingToAskAborts(t *testing.T) {
	h := newHarness(t, Options{Keyword: "aichat"})

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai aichat &plamo ggg"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, outcome)
	assert.Empty(t, h.notes.posted())
	assert.Zero(t, h.plamo.calls())
}

func TestHandleTurn_DirectivesStick(t *testing.T) {
	h := newHarness(t, Options{Keyword: "aichat"})
	ctx := context.Background()

	_, err := h.svc.OnMention(ctx, textNote("n1", "alice", "@ai aichat &gemini-pro ggg what is up"))
	require.NoError(t, err)

	req := h.gemini.last(t)
	assert.Equal(t, "what is up", req.Question)
	assert.Equal(t, provider.GeminiProEndpoint, req.Endpoint)
	assert.True(t, req.Grounding)

	conv := h.conversation(t, "reply-1")
	require.NotNil(t, conv)
	assert.Equal(t, provider.GeminiProEndpoint, conv.Endpoint)
	assert.True(t, conv.Grounding)

	// a follow-up without directives keeps the variant and grounding
	h.notes.conversations["n2"] = []misskey.Note{{ID: "reply-1"}}
	_, err = h.svc.OnTrackedReply(ctx, "reply-1", textNote("n2", "alice", "and then?"))
	require.NoError(t, err)
	req = h.gemini.last(t)
	assert.Equal(t, provider.GeminiProEndpoint, req.Endpoint)
	assert.True(t, req.Grounding)

	// a plain provider token resets the variant
	h.notes.conversations["n3"] = []misskey.Note{{ID: "reply-2"}}
	_, err = h.svc.OnTrackedReply(ctx, "reply-2", textNote("n3", "alice", "&gemini back to normal"))
	require.NoError(t, err)
	assert.Empty(t, h.gemini.last(t).Endpoint)
}

func TestHandleTurn_AlwaysGroundMentions(t *testing.T) {
	h := newHarness(t, Options{AlwaysGroundMentions: true})
	ctx := context.Background()

	_, err := h.svc.OnMention(ctx, textNote("n1", "alice", "@ai hello"))
	require.NoError(t, err)
	assert.True(t, h.gemini.last(t).Grounding)

	rec := &store.Conversation{AnchorPostID: "t1", FromMention: false}
	_, err = h.svc.HandleTurn(ctx, rec, textNote("t1", "bob", "timeline musing"))
	require.NoError(t, err)
	assert.False(t, h.gemini.last(t).Grounding)
	assert.False(t, h.gemini.last(t).FromMention)
}

func TestHandleTurn_ReplyPostFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.notes.replyErr = errors.New("service unavailable")

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai hello"))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Zero(t, h.store.ConversationCount())
	assert.Empty(t, h.timers.scheduled)
}

func TestHandleTurn_ScheduleFailureDropsRecord(t *testing.T) {
	h := newHarness(t, Options{})
	h.timers.scheduleErr = errors.New("disk full")

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai hello"))
	require.Error(t, err)
	assert.Equal(t, OutcomeReplied, outcome)
	assert.Len(t, h.notes.posted(), 1)
	assert.Nil(t, h.conversation(t, "reply-1"))
	assert.Empty(t, h.subs.active)
}

func TestHandleTurn_SubscribeFailureDropsRecordAndTimer(t *testing.T) {
	h := newHarness(t, Options{})
	h.subs.subscribeErr = errors.New("database is locked")

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai hello"))
	require.Error(t, err)
	assert.Equal(t, OutcomeReplied, outcome)
	assert.Nil(t, h.conversation(t, "reply-1"))
	require.Len(t, h.timers.scheduled, 1)
	assert.Equal(t, []string{"timer-1"}, h.timers.cancelled)
}

func TestHandleTurn_DuplicateAnchorIsNotArmed(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	existing := &store.Conversation{
		AnchorPostID: "reply-1",
		History:      []store.HistoryEntry{{Role: store.RoleUser, Content: "older"}},
	}
	require.NoError(t, h.store.InsertConversation(ctx, existing))

	outcome, err := h.svc.OnMention(ctx, textNote("n1", "alice", "@ai hello"))
	require.ErrorIs(t, err, store.ErrDuplicateKey)
	assert.Equal(t, OutcomeReplied, outcome)
	assert.Empty(t, h.timers.scheduled)
	assert.Empty(t, h.subs.active)

	conv := h.conversation(t, "reply-1")
	require.NotNil(t, conv)
	assert.Equal(t, "older", conv.History[0].Content)
}

func TestHandleTurn_PLaMoSkipsEnrichment(t *testing.T) {
	h := newHarness(t, Options{Keyword: "aichat"})
	h.enricher.supplements = []string{"URL: https://x.example title: X"}
	h.enricher.attachments = []provider.Attachment{{MimeType: "image/png", Data: "AAAA"}}

	outcome, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai aichat &plamo what is https://x.example"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	req := h.plamo.last(t)
	assert.Equal(t, "what is https://x.example", req.Question)
	assert.Empty(t, req.Supplements)
	assert.Empty(t, req.Attachments)
	assert.Zero(t, h.gemini.calls())

	replies := h.notes.posted()
	require.Len(t, replies, 1)
	assert.Equal(t, "plamo answer\n\n(plamo) #aichat", replies[0].text)
	assert.Equal(t, "plamo", h.conversation(t, "reply-1").Provider)
}

func TestHandleTurn_GeminiGetsEnrichment(t *testing.T) {
	h := newHarness(t, Options{})
	h.enricher.supplements = []string{"URL: https://x.example title: X"}
	h.enricher.attachments = []provider.Attachment{{MimeType: "image/png", Data: "AAAA"}}

	_, err := h.svc.OnMention(context.Background(), textNote("n1", "alice", "@ai look https://x.example"))
	require.NoError(t, err)

	req := h.gemini.last(t)
	assert.Equal(t, h.enricher.supplements, req.Supplements)
	assert.Equal(t, h.enricher.attachments, req.Attachments)
}

func TestHandleTurn_PrefersFriendName(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.store.SetFriendName(ctx, "alice", "Ally"))

	_, err := h.svc.OnMention(ctx, textNote("n1", "alice", "@ai hello"))
	require.NoError(t, err)
	assert.Equal(t, "Ally", h.gemini.last(t).SpeakerName)
}

func TestOnTimer_EvictsConversation(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.store.InsertConversation(ctx, &store.Conversation{AnchorPostID: "p1"}))
	require.NoError(t, h.subs.Subscribe(ctx, "p1", "p1"))

	require.NoError(t, h.svc.OnTimer(ctx, []byte(`{"id":"p1"}`)))
	assert.Nil(t, h.conversation(t, "p1"))
	assert.Empty(t, h.subs.active)

	// a second firing finds nothing and is harmless
	require.NoError(t, h.svc.OnTimer(ctx, []byte(`{"id":"p1"}`)))
}

func TestOnTimer_BadPayload(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	assert.Error(t, h.svc.OnTimer(ctx, []byte(`not json`)))
	assert.Error(t, h.svc.OnTimer(ctx, []byte(`{}`)))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ignored", OutcomeIgnored.String())
	assert.Equal(t, "not_found", OutcomeNotFound.String())
	assert.Equal(t, "aborted", OutcomeAborted.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "replied", OutcomeReplied.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
