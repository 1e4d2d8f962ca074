package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dossier-ai/internal/domain"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	a, cancelA, _ := hub.Subscribe(ctx, "p1")
	b, cancelB, _ := hub.Subscribe(ctx, "p1")
	other, cancelOther, _ := hub.Subscribe(ctx, "p2")
	defer cancelA()
	defer cancelB()
	defer cancelOther()

	_ = hub.Publish(ctx, "p1", domain.PresentationCompleted)

	for _, ch := range []<-chan domain.PresentationStatus{a, b} {
		select {
		case st := <-ch:
			if st != domain.PresentationCompleted {
				t.Fatalf("неожиданный статус %q", st)
			}
		case <-time.After(time.Second):
			t.Fatalf("статус не доставлен")
		}
	}
	select {
	case st := <-other:
		t.Fatalf("чужой подписчик получил статус %q", st)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel, _ := hub.Subscribe(context.Background(), "p1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("канал должен быть закрыт")
	}
	if err := hub.Publish(context.Background(), "p1", domain.PresentationFailed); err != nil {
		t.Fatalf("publish без подписчиков: %v", err)
	}
}

func TestRedisNotifierRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	n := NewRedis(client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, unsubscribe, err := n.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if err := n.Publish(ctx, "p1", domain.PresentationCompleted); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case st := <-ch:
		if st != domain.PresentationCompleted {
			t.Fatalf("неожиданный статус %q", st)
		}
	case <-ctx.Done():
		t.Fatalf("статус не получен")
	}
}
