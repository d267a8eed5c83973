package service

import (
	"context"
	"testing"
	"time"

	"nettie/internal/models"
	"nettie/internal/repository"
	"nettie/internal/store"
)

func newPresenceService() (*PresenceService, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewPresenceService(repository.NewPresenceRepository(st), repository.NewLocationRepository(st)), st
}

func TestTouchAndRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPresenceService()

	when := time.Now()
	svc.now = func() time.Time { return when }

	if err := svc.Touch(ctx, "c1", models.MoodAlert); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	profile, err := svc.Read(ctx, "c1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if profile == nil {
		t.Fatal("Expected a profile after touch")
	}
	if profile.LastSeen != when.UnixMilli() {
		t.Errorf("LastSeen = %d, want %d", profile.LastSeen, when.UnixMilli())
	}
	if profile.Mood != models.MoodAlert {
		t.Errorf("Mood = %s, want alert", profile.Mood)
	}
}

func TestTouchDefaultsMoodToCalm(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPresenceService()

	if err := svc.Touch(ctx, "c1", ""); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	profile, err := svc.Read(ctx, "c1")
	if err != nil || profile == nil {
		t.Fatalf("Read failed: profile=%v err=%v", profile, err)
	}
	if profile.Mood != models.MoodCalm {
		t.Errorf("Mood = %s, want calm", profile.Mood)
	}
}

func TestReadUnknownChild(t *testing.T) {
	svc, _ := newPresenceService()
	profile, err := svc.Read(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if profile != nil {
		t.Errorf("Expected nil profile, got %+v", profile)
	}
}

func TestRegisterNickname(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPresenceService()

	if err := svc.Register(ctx, "c1", "Maya's tablet"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := svc.Touch(ctx, "c1", models.MoodCalm); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	profile, err := svc.Read(ctx, "c1")
	if err != nil || profile == nil {
		t.Fatalf("Read failed: profile=%v err=%v", profile, err)
	}
	if profile.Nickname != "Maya's tablet" {
		t.Errorf("Nickname = %q", profile.Nickname)
	}
	// Touch must not clobber the nickname
	if profile.LastSeen == 0 {
		t.Error("Touch lost after register")
	}
}

func TestSubscribeProfile(t *testing.T) {
	ctx := context.Background()
	svc, st := newPresenceService()

	sub, err := svc.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := svc.Touch(ctx, "c1", models.MoodDistressed); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case profile, ok := <-sub.C:
			if !ok {
				t.Fatal("Profile channel closed before delivering the change")
			}
			if profile.Mood == models.MoodDistressed {
				sub.Cancel()
				waitForWatchers(t, st, 0)
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for profile snapshot")
		}
	}
}

func TestReportLocationAndRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPresenceService()

	loc, err := svc.LastLocation(ctx, "c1")
	if err != nil {
		t.Fatalf("LastLocation failed: %v", err)
	}
	if loc != nil {
		t.Fatalf("Expected nil location before any report, got %+v", loc)
	}

	when := time.Now()
	svc.now = func() time.Time { return when }

	if err := svc.ReportLocation(ctx, "c1", 51.5007, -0.1246); err != nil {
		t.Fatalf("ReportLocation failed: %v", err)
	}

	loc, err = svc.LastLocation(ctx, "c1")
	if err != nil || loc == nil {
		t.Fatalf("LastLocation failed: loc=%v err=%v", loc, err)
	}
	if loc.Latitude != 51.5007 || loc.Longitude != -0.1246 {
		t.Errorf("Coordinates not preserved: %+v", loc)
	}
	if loc.Timestamp != when.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", loc.Timestamp, when.UnixMilli())
	}
}

func TestReportLocationRequiresChildID(t *testing.T) {
	svc, _ := newPresenceService()
	if err := svc.ReportLocation(context.Background(), "", 1, 2); err == nil {
		t.Error("ReportLocation without child id should fail")
	}
}

func TestRunHeartbeat(t *testing.T) {
	svc, _ := newPresenceService()

	if err := svc.RunHeartbeat(context.Background(), "c1", models.MoodCalm, 0, nil); err == nil {
		t.Error("Expected error for non-positive interval")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.RunHeartbeat(ctx, "c1", models.MoodCalm, 5*time.Millisecond, nil)
	}()

	// Let a few ticks land, then stop
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("RunHeartbeat = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Heartbeat loop did not stop on cancel")
	}

	profile, err := svc.Read(context.Background(), "c1")
	if err != nil || profile == nil || profile.LastSeen == 0 {
		t.Errorf("Heartbeat left no presence: profile=%v err=%v", profile, err)
	}
}

func TestRunHeartbeatSyncsLocation(t *testing.T) {
	svc, _ := newPresenceService()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.RunHeartbeat(ctx, "c1", models.MoodCalm, time.Hour, func() (float64, float64, bool) {
			return 48.8584, 2.2945, true
		})
	}()

	// The first cycle runs immediately; poll until its writes land.
	deadline := time.After(time.Second)
	for {
		loc, err := svc.LastLocation(context.Background(), "c1")
		if err != nil {
			t.Fatalf("LastLocation failed: %v", err)
		}
		if loc != nil {
			if loc.Latitude != 48.8584 || loc.Longitude != 2.2945 {
				t.Errorf("Coordinates not preserved: %+v", loc)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the location write")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Heartbeat loop did not stop on cancel")
	}
}
