package app

import "testing"

func TestFeedDropsOldestWhenFull(t *testing.T) {
	feed := NewFeed()
	ch, cancel := feed.Subscribe("u1", FeedEvent{Type: EventSnapshot})
	defer cancel()

	for i := 0; i < 10; i++ {
		feed.Publish("u1", FeedEvent{Type: EventScore, Payload: i})
	}
	feed.Publish("u2", FeedEvent{Type: EventScore, Payload: "other"})

	var got []any
	for len(ch) > 0 {
		got = append(got, (<-ch).Payload)
	}
	if len(got) != 8 || got[0] != 2 || got[7] != 9 {
		t.Fatalf("expected the newest 8 events, got %v", got)
	}
}

func TestFeedCancelClosesAndUnregisters(t *testing.T) {
	feed := NewFeed()
	ch, cancel := feed.Subscribe("u1", FeedEvent{Type: EventSnapshot})
	if feed.Subscribers("u1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	if ev := <-ch; ev.Type != EventSnapshot {
		t.Fatalf("expected snapshot first, got %s", ev.Type)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if feed.Subscribers("u1") != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
	feed.Publish("u1", FeedEvent{Type: EventScore})
}
