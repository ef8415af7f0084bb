package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/titanfed/titan/internal/email"
	"github.com/titanfed/titan/internal/registry"
)

// gatedSender blocks every Send until released so the test can hold all
// dispatcher slots open at once.
type gatedSender struct {
	entered chan struct{}
	release chan struct{}
	done    chan struct{}

	mu   sync.Mutex
	sent int
}

func (s *gatedSender) Send(_ context.Context, _ email.Message) error {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func TestDispatcherBoundsInFlightSends(t *testing.T) {
	sender := &gatedSender{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		done:    make(chan struct{}, maxInFlightNotices),
	}
	d := NewDispatcher(nil, sender, "noreply@titanfed.app")
	profile := &registry.SubscriptionProfile{
		CycleNumber: 2,
		ExpiresAt:   time.Now().Add(30 * 24 * time.Hour),
	}

	for i := 0; i < maxInFlightNotices; i++ {
		d.Dispatch(context.Background(), noticeRenewed, "member@titanfed.app", profile)
	}
	for i := 0; i < maxInFlightNotices; i++ {
		select {
		case <-sender.entered:
		case <-time.After(5 * time.Second):
			t.Fatalf("send %d never started", i+1)
		}
	}

	// Every slot is held by a blocked send; the next notice must be
	// dropped immediately rather than queued behind the provider.
	start := time.Now()
	d.Dispatch(context.Background(), noticeRenewed, "member@titanfed.app", profile)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("saturated Dispatch blocked for %s", elapsed)
	}

	close(sender.release)
	for i := 0; i < maxInFlightNotices; i++ {
		select {
		case <-sender.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("send %d never finished", i+1)
		}
	}

	select {
	case <-sender.entered:
		t.Fatal("a dropped notice still reached the sender")
	default:
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.sent != maxInFlightNotices {
		t.Fatalf("sent = %d, want %d", sender.sent, maxInFlightNotices)
	}
}
