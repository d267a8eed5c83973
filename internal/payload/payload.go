// Package payload encodes and parses the link payload carried between
// devices inside the scanned visual code. The string is the only wire
// format the two sides exchange directly; everything else travels through
// the shared state store.
package payload

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme of a link payload. Early builds emitted the
// shorter "nettie" scheme; Parse accepts both.
const (
	Scheme       = "nettielink"
	legacyScheme = "nettie"
)

// ErrMalformed reports a scan result that is not a valid link payload.
var ErrMalformed = errors.New("malformed link payload")

// LinkRequest is the decoded content of a scanned code. The full form
// carries a pairing token and the issuing guardian; the bare form carries
// only a household identifier and is accepted for older guardian builds
// that printed household codes directly.
type LinkRequest struct {
	Token       string
	GuardianID  string
	HouseholdID string
}

// Bare reports whether this is the tokenless household-code form.
func (r *LinkRequest) Bare() bool {
	return r.Token == ""
}

// Encode renders the full link payload for a pending token.
func Encode(token, guardianID string) string {
	return fmt.Sprintf("%s://child/link?token=%s&guardianId=%s",
		Scheme, url.QueryEscape(token), url.QueryEscape(guardianID))
}

// EncodeHousehold renders the bare household-code payload.
func EncodeHousehold(householdID string) string {
	return Scheme + "://" + url.PathEscape(householdID)
}

// Parse decodes a scan result string. Anything that is not one of the two
// accepted forms fails with ErrMalformed; a scan never crashes the caller.
func Parse(scanned string) (*LinkRequest, error) {
	trimmed := strings.TrimSpace(scanned)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty scan result", ErrMalformed)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Scheme != Scheme && u.Scheme != legacyScheme {
		return nil, fmt.Errorf("%w: unexpected scheme %q", ErrMalformed, u.Scheme)
	}

	// Full form: nettielink://child/link?token=<t>&guardianId=<g>
	if u.Host == "child" {
		if strings.Trim(u.Path, "/") != "link" {
			return nil, fmt.Errorf("%w: unexpected path %q", ErrMalformed, u.Path)
		}
		q := u.Query()
		token := q.Get("token")
		guardianID := q.Get("guardianId")
		if token == "" || guardianID == "" {
			return nil, fmt.Errorf("%w: missing token or guardianId", ErrMalformed)
		}
		return &LinkRequest{Token: token, GuardianID: guardianID, HouseholdID: guardianID}, nil
	}

	// Bare form: nettielink://<householdId>
	if u.Host != "" && u.Path == "" && u.RawQuery == "" {
		return &LinkRequest{HouseholdID: u.Host}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized payload shape", ErrMalformed)
}
