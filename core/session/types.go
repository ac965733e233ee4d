package session

import (
	"encoding/json"
	"strconv"
	"time"
)

// Session is the stored state of one user.
type Session struct {
	Token           string       `json:"token,omitempty"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	OrganizationID  string       `json:"organizationId,omitempty"`
	HasSeenGreeting bool         `json:"hasSeenGreeting,omitempty"`
	Wizard          *WizardState `json:"wizard,omitempty"`
}

// WizardState is the persisted position inside a multi-step flow.
// Data holds the step's own fields as a JSON object.
type WizardState struct {
	Step string          `json:"step"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Authenticated reports whether the session carries a credential that is still valid at now.
func (s Session) Authenticated(now time.Time) bool {
	return s.Token != "" && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// Idle reports whether no flow is in progress.
func (s Session) Idle() bool {
	return s.Wizard == nil
}

// Credentials is the authenticated subset of a Session.
type Credentials struct {
	Token          string
	OrganizationID string
	ExpiresAt      time.Time
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Token           *string
	ExpiresAt       *time.Time
	OrganizationID  *string
	HasSeenGreeting *bool
	Wizard          *WizardState

	// ClearWizard drops the wizard; it is applied before Wizard, so both together replace it.
	ClearWizard bool
	// Logout drops token, expiry and organization.
	Logout bool
}

// Empty reports whether applying p would change nothing.
func (p Patch) Empty() bool {
	return p.Token == nil && p.ExpiresAt == nil && p.OrganizationID == nil &&
		p.HasSeenGreeting == nil && p.Wizard == nil && !p.ClearWizard && !p.Logout
}

// Apply merges p into s field by field.
func (p Patch) Apply(s *Session) {
	if p.Logout {
		s.Token = ""
		s.ExpiresAt = nil
		s.OrganizationID = ""
	}
	if p.ClearWizard {
		s.Wizard = nil
	}
	if p.Token != nil {
		s.Token = *p.Token
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		s.ExpiresAt = &t
	}
	if p.OrganizationID != nil {
		s.OrganizationID = *p.OrganizationID
	}
	if p.HasSeenGreeting != nil {
		s.HasSeenGreeting = *p.HasSeenGreeting
	}
	if p.Wizard != nil {
		w := *p.Wizard
		s.Wizard = &w
	}
}

// Authenticate builds the patch applied after a successful login.
func Authenticate(token, organizationID string, expiresAt time.Time) Patch {
	return Patch{
		Token:          &token,
		ExpiresAt:      &expiresAt,
		OrganizationID: &organizationID,
		ClearWizard:    true,
	}
}

// SetWizard builds a patch that replaces the wizard.
func SetWizard(w WizardState) Patch {
	return Patch{ClearWizard: true, Wizard: &w}
}

// Greeted builds a patch that marks the welcome message as shown.
func Greeted() Patch {
	v := true
	return Patch{HasSeenGreeting: &v}
}

// Key returns the record key of a user's session.
func Key(userID int64) string {
	return "session:" + strconv.FormatInt(userID, 10)
}
