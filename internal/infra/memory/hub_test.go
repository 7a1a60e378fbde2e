package memory

import (
	"context"
	"testing"
)

func TestHubRoutesUserMessagesAndBroadcasts(t *testing.T) {
	hub := NewHub(4)
	alice, cancelAlice := hub.Subscribe("alice")
	defer cancelAlice()
	bob, cancelBob := hub.Subscribe("bob")
	defer cancelBob()

	_ = hub.SendToUser(context.Background(), "alice", "/topic/exercise/1/participation", "p")
	_ = hub.Broadcast(context.Background(), "/topic/quiz/1/start", "q")

	if msg := <-alice; msg.Topic != "/topic/exercise/1/participation" || msg.Username != "alice" {
		t.Fatalf("unexpected first message for alice: %+v", msg)
	}
	if msg := <-alice; msg.Topic != "/topic/quiz/1/start" {
		t.Fatalf("expected broadcast for alice, got %+v", msg)
	}
	if msg := <-bob; msg.Topic != "/topic/quiz/1/start" {
		t.Fatalf("expected only the broadcast for bob, got %+v", msg)
	}
	select {
	case msg := <-bob:
		t.Fatalf("bob received a message for alice: %+v", msg)
	default:
	}
}

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	hub := NewHub(2)
	ch, cancel := hub.Subscribe("u")
	defer cancel()

	for _, payload := range []string{"1", "2", "3"} {
		_ = hub.SendToUser(context.Background(), "u", "t", payload)
	}
	first := <-ch
	second := <-ch
	if first.Payload != "2" || second.Payload != "3" {
		t.Fatalf("expected oldest dropped, got %v %v", first.Payload, second.Payload)
	}
}

func TestHubCancelClosesAndUnregisters(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe("u")
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers left")
	}
	_ = hub.SendToUser(context.Background(), "u", "t", "after cancel")
}
