package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"nettie/internal/models"
	"nettie/internal/repository"
	"nettie/internal/store"
)

func newEscalationFixture(t *testing.T) (*EscalationService, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	escalations := repository.NewEscalationRepository(st)
	members := repository.NewMembershipRepository(st)
	presence := repository.NewPresenceRepository(st)
	svc := NewEscalationService(escalations, members, presence)

	if _, err := members.Link(context.Background(), "g1", "c1", time.Now()); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	return svc, st
}

func TestRecentOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newEscalationFixture(t)

	base := time.Now().UnixMilli()
	for i := 0; i < 12; i++ {
		_, err := svc.Append(ctx, &models.EscalationEvent{
			HouseholdID: "g1",
			ChildID:     "c1",
			Timestamp:   base + int64(i*1000),
			Category:    fmt.Sprintf("cat-%d", i),
			IsEscalated: i%3 == 0,
		})
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	events, err := svc.Recent(ctx, "g1", "c1", 5)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp > events[i-1].Timestamp {
			t.Errorf("Events not newest-first: %d before %d", events[i-1].Timestamp, events[i].Timestamp)
		}
	}
	if events[0].Category != "cat-11" {
		t.Errorf("Expected newest event first, got %s", events[0].Category)
	}

	// Zero limit returns everything
	all, err := svc.Recent(ctx, "g1", "c1", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 12 {
		t.Errorf("Expected 12 events, got %d", len(all))
	}
}

func TestRecentRequiresMembership(t *testing.T) {
	svc, _ := newEscalationFixture(t)
	if _, err := svc.Recent(context.Background(), "g1", "c-unknown", 5); !errors.Is(err, ErrNotLinked) {
		t.Errorf("Recent = %v, want ErrNotLinked", err)
	}
}

func TestAppendRequiresIdentifiers(t *testing.T) {
	svc, _ := newEscalationFixture(t)
	if _, err := svc.Append(context.Background(), &models.EscalationEvent{ChildID: "c1"}); err == nil {
		t.Error("Append without household id should fail")
	}
}

func TestAppendEscalatedRaisesProfileFlag(t *testing.T) {
	ctx := context.Background()
	svc, st := newEscalationFixture(t)
	presence := repository.NewPresenceRepository(st)

	_, err := svc.Append(ctx, &models.EscalationEvent{
		HouseholdID: "g1",
		ChildID:     "c1",
		Timestamp:   time.Now().UnixMilli(),
		Category:    "grooming",
		IsEscalated: true,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	profile, err := presence.Get(ctx, "c1")
	if err != nil || profile == nil {
		t.Fatalf("Get profile failed: profile=%v err=%v", profile, err)
	}
	if !profile.IsEscalated {
		t.Error("Escalated append did not raise the profile flag")
	}
}

func TestSubscribeEscalatedFiltersAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	svc, st := newEscalationFixture(t)

	sub, err := svc.SubscribeEscalated(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("SubscribeEscalated failed: %v", err)
	}
	defer sub.Cancel()

	base := time.Now().UnixMilli()
	appendEvent := func(category string, escalated bool) {
		t.Helper()
		base += 1000
		_, err := svc.Append(ctx, &models.EscalationEvent{
			HouseholdID: "g1",
			ChildID:     "c1",
			Timestamp:   base,
			Category:    category,
			IsEscalated: escalated,
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	appendEvent("quiet", false)
	appendEvent("first", true)
	appendEvent("second", true)

	got := []string{recvEscalation(t, sub.C).Category, recvEscalation(t, sub.C).Category}
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("Expected escalated events in timeline order, got %v", got)
	}

	// A further change re-sends the full snapshot; already delivered events
	// must not repeat.
	appendEvent("third", true)
	if ev := recvEscalation(t, sub.C); ev.Category != "third" {
		t.Errorf("Expected only the new event, got %s", ev.Category)
	}

	sub.Cancel()
	waitForWatchers(t, st, 0)
}

func recvEscalation(t *testing.T, c <-chan models.EscalationEvent) models.EscalationEvent {
	t.Helper()
	select {
	case ev, ok := <-c:
		if !ok {
			t.Fatal("Escalation channel closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for escalation event")
		return models.EscalationEvent{}
	}
}
