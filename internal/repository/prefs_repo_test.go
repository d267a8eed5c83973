package repository

import (
	"path/filepath"
	"testing"
	"time"

	"nettie/internal/database"
	"nettie/internal/models"
)

func newPrefsRepo(t *testing.T) *PrefsRepository {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return NewPrefsRepository(db)
}

func TestIdentityRoundTrip(t *testing.T) {
	prefs := newPrefsRepo(t)

	// Unlinked device has no identity
	identity, err := prefs.GetIdentity()
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if identity != nil {
		t.Fatalf("Expected no identity, got %+v", identity)
	}

	linked := time.Now().Truncate(time.Second)
	if err := prefs.SaveIdentity(&models.Identity{
		Role:        models.RoleChild,
		GuardianID:  "g1",
		HouseholdID: "g1",
		ChildID:     "c1",
		LinkedAt:    linked,
	}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	identity, err = prefs.GetIdentity()
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if identity == nil {
		t.Fatal("Expected an identity after save")
	}
	if identity.Role != models.RoleChild || identity.ChildID != "c1" || identity.GuardianID != "g1" {
		t.Errorf("Unexpected identity %+v", identity)
	}
	if !identity.LinkedAt.Equal(linked) {
		t.Errorf("LinkedAt = %v, want %v", identity.LinkedAt, linked)
	}

	// Saving again replaces the single identity row
	if err := prefs.SaveIdentity(&models.Identity{
		Role:       models.RoleGuardian,
		GuardianID: "g2",
		LinkedAt:   linked,
	}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}
	identity, err = prefs.GetIdentity()
	if err != nil || identity == nil {
		t.Fatalf("GetIdentity failed: identity=%v err=%v", identity, err)
	}
	if identity.Role != models.RoleGuardian || identity.GuardianID != "g2" {
		t.Errorf("Identity not replaced: %+v", identity)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	prefs := newPrefsRepo(t)

	value, err := prefs.GetSetting(SettingAlertEmail)
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if value != "" {
		t.Errorf("Expected empty value for unset setting, got %q", value)
	}

	if err := prefs.SetSetting(SettingAlertEmail, "parent@example.com"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := prefs.SetSetting(SettingAlertEmail, "other@example.com"); err != nil {
		t.Fatalf("SetSetting upsert failed: %v", err)
	}

	value, err = prefs.GetSetting(SettingAlertEmail)
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if value != "other@example.com" {
		t.Errorf("GetSetting = %q, want other@example.com", value)
	}
}
