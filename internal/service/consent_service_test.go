package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"nettie/internal/models"
	"nettie/internal/repository"
	"nettie/internal/store"
)

func newConsentFixture(t *testing.T) (*ConsentService, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	consents := repository.NewConsentRepository(st)
	members := repository.NewMembershipRepository(st)
	svc := NewConsentService(consents, members)

	// Link c1 into g1's household so guardian writes are permitted
	if _, err := members.Link(context.Background(), "g1", "c1", time.Now()); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	return svc, st
}

var guardianActor = models.Actor{ID: "g1", Role: models.RoleGuardian}

func TestConsentDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConsentFixture(t)

	tests := []struct {
		capability models.Capability
		want       bool
	}{
		{models.CapabilityDiscord, true},
		{models.CapabilityRoblox, true},
		{models.CapabilityTikTok, true},
		{models.CapabilityMessenger, true},
		{models.CapabilitySMSRadar, false},
		{models.CapabilitySafeScope, false},
	}
	for _, tt := range tests {
		got, err := svc.GetConsent(ctx, "c1", tt.capability)
		if err != nil {
			t.Fatalf("GetConsent(%s) failed: %v", tt.capability, err)
		}
		if got != tt.want {
			t.Errorf("GetConsent(%s) = %t, want default %t", tt.capability, got, tt.want)
		}
	}
}

func TestSetConsentAuthorization(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConsentFixture(t)

	// A child actor can never write consent
	childActor := models.Actor{ID: "c1", Role: models.RoleChild}
	if err := svc.SetConsent(ctx, childActor, "c1", models.CapabilitySMSRadar, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("Child write = %v, want ErrForbidden", err)
	}

	// A guardian from another household can't either
	stranger := models.Actor{ID: "g2", Role: models.RoleGuardian}
	if err := svc.SetConsent(ctx, stranger, "c1", models.CapabilitySMSRadar, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("Unlinked guardian write = %v, want ErrForbidden", err)
	}

	// Rejected writes leave the default in place
	got, err := svc.GetConsent(ctx, "c1", models.CapabilitySMSRadar)
	if err != nil || got {
		t.Errorf("Rejected write changed state: granted=%t err=%v", got, err)
	}

	// The owning guardian succeeds
	if err := svc.SetConsent(ctx, guardianActor, "c1", models.CapabilitySMSRadar, true); err != nil {
		t.Fatalf("Guardian write failed: %v", err)
	}
	got, err = svc.GetConsent(ctx, "c1", models.CapabilitySMSRadar)
	if err != nil || !got {
		t.Errorf("Expected SMS granted after write, got granted=%t err=%v", got, err)
	}
}

func TestConsentOverview(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConsentFixture(t)

	if err := svc.SetConsent(ctx, guardianActor, "c1", models.CapabilityDiscord, false); err != nil {
		t.Fatalf("SetConsent failed: %v", err)
	}

	records, err := svc.Overview(ctx, "c1")
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if len(records) != len(models.Capabilities()) {
		t.Fatalf("Expected %d records, got %d", len(models.Capabilities()), len(records))
	}

	byCapability := make(map[models.Capability]models.ConsentRecord)
	for i, rec := range records {
		if rec.Capability != models.Capabilities()[i] {
			t.Errorf("Record %d out of canonical order: %s", i, rec.Capability)
		}
		byCapability[rec.Capability] = rec
	}

	discord := byCapability[models.CapabilityDiscord]
	if discord.Granted || discord.UpdatedBy != "g1" || discord.UpdatedAt == 0 {
		t.Errorf("Stored record not reflected: %+v", discord)
	}
	if roblox := byCapability[models.CapabilityRoblox]; !roblox.Granted || roblox.UpdatedBy != "" {
		t.Errorf("Default record wrong: %+v", roblox)
	}
	if sms := byCapability[models.CapabilitySMSRadar]; sms.Granted {
		t.Errorf("Opt-in default wrong: %+v", sms)
	}
}

func TestConsentLegacyBooleanRecords(t *testing.T) {
	ctx := context.Background()
	svc, st := newConsentFixture(t)

	// Original mobile clients wrote bare booleans
	if err := st.Set(ctx, "platformControls/c1/Discord", false); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if err := st.Set(ctx, "consent/c1/SMS", true); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	got, err := svc.GetConsent(ctx, "c1", models.CapabilityDiscord)
	if err != nil || got {
		t.Errorf("Legacy toggle not honored: granted=%t err=%v", got, err)
	}
	got, err = svc.GetConsent(ctx, "c1", models.CapabilitySMSRadar)
	if err != nil || !got {
		t.Errorf("Legacy opt-in not honored: granted=%t err=%v", got, err)
	}
}

func TestConsentSubscribe(t *testing.T) {
	ctx := context.Background()
	svc, st := newConsentFixture(t)

	sub, err := svc.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := svc.SetConsent(ctx, guardianActor, "c1", models.CapabilityTikTok, false); err != nil {
		t.Fatalf("SetConsent failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case records, ok := <-sub.C:
			if !ok {
				t.Fatal("Subscription channel closed before delivering the change")
			}
			for _, rec := range records {
				if rec.Capability == models.CapabilityTikTok && !rec.Granted {
					sub.Cancel()
					sub.Cancel() // idempotent
					waitForWatchers(t, st, 0)
					return
				}
			}
		case <-deadline:
			t.Fatal("Timed out waiting for consent snapshot")
		}
	}
}

func TestConsentSubscribeSlowConsumerSeesLatest(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConsentFixture(t)

	sub, err := svc.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Cancel()

	// Flood the subscription without reading it; far more changes than the
	// channel buffers. The final write flips Discord off.
	for i := 0; i < 40; i++ {
		if err := svc.SetConsent(ctx, guardianActor, "c1", models.CapabilityDiscord, i%2 == 0); err != nil {
			t.Fatalf("SetConsent %d failed: %v", i, err)
		}
	}

	// Give the merger time to process every change while nothing reads.
	time.Sleep(50 * time.Millisecond)

	// However much was skipped, the stream must still end at current state.
	deadline := time.After(time.Second)
	for {
		select {
		case records, ok := <-sub.C:
			if !ok {
				t.Fatal("Subscription channel closed before delivering current state")
			}
			for _, rec := range records {
				if rec.Capability == models.CapabilityDiscord && !rec.Granted {
					return
				}
			}
		case <-deadline:
			t.Fatal("Slow consumer never observed the final consent state")
		}
	}
}

func waitForWatchers(t *testing.T, st *store.MemoryStore, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for st.WatcherCount() != want {
		select {
		case <-deadline:
			t.Fatalf("Watcher count stuck at %d, want %d", st.WatcherCount(), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
