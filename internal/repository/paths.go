package repository

import "nettie/internal/models"

// Store path layout. These mirror the tree the mobile clients already use,
// so a Go process and a device client observe the same records.
func tokenPath(guardianID, token string) string {
	return "guardianLinks/" + guardianID + "/pendingTokens/" + token
}

func childrenPath(guardianID string) string {
	return "guardianLinks/" + guardianID + "/children"
}

func membershipPath(guardianID, childID string) string {
	return childrenPath(guardianID) + "/" + childID
}

func profilePath(childID string) string {
	return "childProfiles/" + childID
}

// consentPath splits capabilities across the two subtrees the clients read:
// platform access toggles under platformControls, explicit opt-in consents
// under consent.
func consentPath(childID string, c models.Capability) string {
	if c.OptIn() {
		return "consent/" + childID + "/" + string(c)
	}
	return "platformControls/" + childID + "/" + string(c)
}

func platformControlsPath(childID string) string {
	return "platformControls/" + childID
}

func optInConsentPath(childID string) string {
	return "consent/" + childID
}

func locationPath(childID string) string {
	return "location/" + childID
}

func detectionsPath(householdID, childID string) string {
	return "feelscope/households/" + householdID + "/detections/" + childID
}
