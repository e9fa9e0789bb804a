package main

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSessionIsIdempotent(t *testing.T) {
	store := NewChatStore(test_database(t))

	first, err := store.OpenSession("", "Foo")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.SessionId, "chat_"))
	assert.Len(t, first.SessionId, len("chat_")+9)
	assert.Equal(t, uint(0), first.MessageCount)
	assert.Equal(t, "Chat session started", first.LastMessage)
	assert.True(t, first.IsActive)

	second, err := store.OpenSession(first.SessionId, "ignored")
	require.NoError(t, err)
	assert.Equal(t, first.SessionId, second.SessionId)
	assert.Equal(t, "Foo", second.CustomerName)
}

func TestOpenSessionWithUnknownIdCreatesNew(t *testing.T) {
	store := NewChatStore(test_database(t))

	session, err := store.OpenSession("chat_notreal1", "")
	require.NoError(t, err)
	assert.NotEqual(t, "chat_notreal1", session.SessionId)
	assert.Equal(t, "Anonymous Customer", session.CustomerName)
}

func TestAppendMessageUpdatesSessionCounters(t *testing.T) {
	store := NewChatStore(test_database(t))

	session, err := store.OpenSession("", "Foo")
	require.NoError(t, err)

	_, err = store.AppendMessage(session.SessionId, "customer", "hello there")
	require.NoError(t, err)
	long := strings.Repeat("x", 80)
	_, err = store.AppendMessage(session.SessionId, "bot", long)
	require.NoError(t, err)

	reloaded, err := store.OpenSession(session.SessionId, "")
	require.NoError(t, err)
	assert.Equal(t, uint(2), reloaded.MessageCount)
	assert.Equal(t, strings.Repeat("x", chat_preview_length)+"...", reloaded.LastMessage)

	messages, err := store.Messages(session.SessionId)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "customer", messages[0].Sender)
	assert.Equal(t, "bot", messages[1].Sender)
}

func TestMessagesAreScopedToSession(t *testing.T) {
	store := NewChatStore(test_database(t))

	first, err := store.OpenSession("", "Foo")
	require.NoError(t, err)
	second, err := store.OpenSession("", "Bar")
	require.NoError(t, err)

	_, err = store.AppendMessage(first.SessionId, "customer", "for session one")
	require.NoError(t, err)

	messages, err := store.Messages(second.SessionId)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestActiveSessionsListing(t *testing.T) {
	store := NewChatStore(test_database(t))

	_, err := store.OpenSession("", "Foo")
	require.NoError(t, err)
	_, err = store.OpenSession("", "Bar")
	require.NoError(t, err)

	list, err := store.ActiveSessions()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestLookupBotResponse(t *testing.T) {
	canned := lookup_bot_response("How fast is delivery?")
	assert.Contains(t, canned, "instant delivery")

	fallback := lookup_bot_response("can I pay in gems?")
	assert.Equal(t, bot_fallback_response, fallback)

	// Whitespace around a quick question still hits the table.
	assert.Equal(t, canned, lookup_bot_response("  How fast is delivery? "))
}

func TestEventPublisherFanout(t *testing.T) {
	publisher := NewEventPublisher()
	subscriber := publisher.Subscribe()

	sent := BroadcastChatMessage{event: "new_message", data: ChatMessages{SessionId: "chat_abc123def", Sender: "admin", Text: "hi"}}
	publisher.Publish(sent)

	received := <-subscriber
	assert.Equal(t, sent.data.SessionId, received.data.SessionId)
	assert.Equal(t, "admin", received.data.Sender)

	// After unsubscribing, further publishes no longer reach the channel.
	publisher.Unsubscribe(subscriber)
	publisher.Publish(sent)
	select {
	case <-subscriber:
		t.Fatal("received a broadcast after unsubscribing")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventPublisherPublishDuringUnsubscribe(t *testing.T) {
	publisher := NewEventPublisher()
	payload := BroadcastChatMessage{event: "typing", data: ChatMessages{SessionId: "chat_abc123def", Sender: "customer"}}

	// Subscribers that never read, torn down while publishes are in flight.
	// This used to crash with a send on a closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		subscriber := publisher.Subscribe()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				publisher.Publish(payload)
			}
		}()
		go func(s <-chan BroadcastChatMessage) {
			defer wg.Done()
			publisher.Unsubscribe(s)
		}(subscriber)
	}
	wg.Wait()
}

func TestAppendMessagePreviewKeepsRunesIntact(t *testing.T) {
	store := NewChatStore(test_database(t))

	session, err := store.OpenSession("", "Foo")
	require.NoError(t, err)

	// A multibyte rune straddling the cutoff must not be split.
	text := strings.Repeat("x", chat_preview_length-1) + "🚀🚀"
	_, err = store.AppendMessage(session.SessionId, "customer", text)
	require.NoError(t, err)

	reloaded, err := store.OpenSession(session.SessionId, "")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(reloaded.LastMessage))
	assert.Equal(t, strings.Repeat("x", chat_preview_length-1)+"🚀...", reloaded.LastMessage)
}
