package server

import (
	"context"
	"testing"
	"time"
)

func receiveRealtimeMessage(t *testing.T, stream <-chan RealtimeMessage) RealtimeMessage {
	t.Helper()
	select {
	case message := <-stream:
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for realtime message")
		return RealtimeMessage{}
	}
}

func TestRealtimeDispatcherDeliversToOwnSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx, "user-1")
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx, "user-1")
	defer cleanupSecond()

	dispatcher.Publish(RealtimeMessage{
		UserID:         "user-1",
		EventType:      RealtimeEventVaultChanged,
		VaultID:        testVaultID,
		LatestSequence: 7,
	})

	for _, stream := range []<-chan RealtimeMessage{first, second} {
		message := receiveRealtimeMessage(t, stream)
		if message.EventType != RealtimeEventVaultChanged || message.LatestSequence != 7 {
			t.Fatalf("unexpected message: %+v", message)
		}
	}
}

func TestRealtimeDispatcherIsolatesUsers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	foreign, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{
		UserID:    "user-1",
		EventType: RealtimeEventVaultChanged,
		VaultID:   testVaultID,
	})

	select {
	case message := <-foreign:
		t.Fatalf("expected no delivery to other users, got %+v", message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealtimeDispatcherDropsForSlowSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	for sequence := int64(1); sequence <= int64(dispatcher.bufferSize)+5; sequence++ {
		dispatcher.Publish(RealtimeMessage{
			UserID:         "user-1",
			EventType:      RealtimeEventVaultChanged,
			VaultID:        testVaultID,
			LatestSequence: sequence,
		})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received != dispatcher.bufferSize {
				t.Fatalf("expected %d buffered messages, got %d", dispatcher.bufferSize, received)
			}
			return
		}
	}
}

func TestRealtimeDispatcherUnsubscribeOnContextCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["user-1"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}

	dispatcher.Publish(RealtimeMessage{
		UserID:    "user-1",
		EventType: RealtimeEventVaultChanged,
		VaultID:   testVaultID,
	})
	select {
	case message := <-stream:
		t.Fatalf("expected no delivery after cancellation, got %+v", message)
	case <-time.After(50 * time.Millisecond):
	}
}
