package repository

import (
	"database/sql"
	"errors"

	"nettie/internal/database"
	"nettie/internal/models"
)

// Setting names used by the daemons.
const (
	SettingPasscodeHash = "guardian_passcode_hash"
	SettingDeviceToken  = "guardian_device_token"
	SettingAlertEmail   = "guardian_alert_email"
)

// PrefsRepository is the local preference cache: the device's own identity
// plus simple string settings. It never holds household state; that lives
// only in the shared store.
type PrefsRepository struct {
	db *database.DB
}

func NewPrefsRepository(db *database.DB) *PrefsRepository {
	return &PrefsRepository{db: db}
}

// SaveIdentity records the device identity, replacing any previous one.
func (r *PrefsRepository) SaveIdentity(id *models.Identity) error {
	_, err := r.db.Exec(r.db.Dialect.UpsertIdentity(),
		string(id.Role), id.GuardianID, id.HouseholdID, id.ChildID, id.LinkedAt)
	return err
}

// GetIdentity returns the cached identity, or (nil, nil) when the device
// has never linked.
func (r *PrefsRepository) GetIdentity() (*models.Identity, error) {
	query := `SELECT role, guardian_id, household_id, child_id, linked_at FROM identities WHERE id = 1`

	var role string
	var guardianID, householdID, childID sql.NullString
	var linkedAt sql.NullTime
	err := r.db.QueryRow(query).Scan(&role, &guardianID, &householdID, &childID, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	id := &models.Identity{
		Role:        models.Role(role),
		GuardianID:  guardianID.String,
		HouseholdID: householdID.String,
		ChildID:     childID.String,
	}
	if linkedAt.Valid {
		id.LinkedAt = linkedAt.Time
	}
	return id, nil
}

// GetSetting retrieves a setting value by name; missing settings return an
// empty string.
func (r *PrefsRepository) GetSetting(name string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSetting updates or inserts a setting.
func (r *PrefsRepository) SetSetting(name, value string) error {
	_, err := r.db.Exec(r.db.Dialect.UpsertSetting(), name, value)
	return err
}
