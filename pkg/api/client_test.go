package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWsClientCannotWriteIntoForeignConversation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.services.Conversations.GetOrCreate(ctx, "victim", "Vic Tim", "")
	require.NoError(t, err)

	victimThread := Thread{Kind: ThreadConversation, Id: "victim"}
	_, err = env.services.Messages.Send(ctx, SendMessageInput{
		Thread:      victimThread,
		SenderId:    staff.Id,
		SenderRole:  RoleEmployee,
		Content:     "for the victim only",
		ContentType: ContentText,
	})
	require.NoError(t, err)

	hub := NewHub()
	client := NewClient(hub, nil, make(chan []byte, 8), citizen, env.services)

	client.handle(clientAction{Action: "message", Message: &SendMessageInput{
		Thread:      victimThread,
		Content:     "injected",
		ContentType: ContentText,
	}})
	client.handle(clientAction{Action: "markRead", Thread: &victimThread})
	client.handle(clientAction{Action: "typing", ConversationId: "victim"})

	// Each rejected action surfaces as an error frame.
	for i := 0; i < 3; i++ {
		var e Event
		require.NoError(t, json.Unmarshal(<-client.send, &e))
		assert.Equal(t, "error", e.Type)
	}

	// The victim's thread is untouched.
	messages, err := env.services.Messages.List(ctx, victimThread)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "for the victim only", messages[0].Content)
	assert.False(t, messages[0].Read)
}

func TestWsClientMessageCarriesActorIdentity(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.services.Conversations.GetOrCreate(ctx, citizen.Id, citizen.Name, "")
	require.NoError(t, err)

	hub := NewHub()
	client := NewClient(hub, nil, make(chan []byte, 8), citizen, env.services)

	thread := Thread{Kind: ThreadConversation, Id: citizen.Id}
	client.handle(clientAction{Action: "message", Message: &SendMessageInput{
		Thread:      thread,
		SenderId:    "spoofed",
		SenderRole:  RoleAdmin,
		Content:     "hello",
		ContentType: ContentText,
	}})

	messages, err := env.services.Messages.List(ctx, thread)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, citizen.Id, messages[0].SenderId)
	assert.Equal(t, RoleCitizen, messages[0].SenderRole)
}

func TestSubscribeEvictsWhenSnapshotCannotBeDelivered(t *testing.T) {
	env := newTestEnv()

	hub := NewHub()
	go hub.Run()

	// Zero buffer: the snapshot frame can never be handed off.
	client := NewClient(hub, nil, make(chan []byte), citizen, env.services)
	hub.Register <- client

	require.NoError(t, client.subscribeTopic(context.Background(), TopicAlerts))

	select {
	case _, ok := <-client.send:
		assert.False(t, ok, "expected send channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for eviction")
	}
}
