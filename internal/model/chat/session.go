package chat

import "time"

// Status tracks where a session sits in its lifecycle. Transitions only
// ever move forward: waiting -> active -> closed.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
)

// GuestProfile identifies an anonymous visitor who started a chat
// without an account.
type GuestProfile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Participant is the customer side of a session: either a registered
// user id or a guest profile, never both and never neither.
type Participant struct {
	UserID string        `json:"userId,omitempty"`
	Guest  *GuestProfile `json:"guest,omitempty"`
}

// UserParticipant builds the registered-customer variant.
func UserParticipant(userID string) Participant {
	return Participant{UserID: userID}
}

// GuestParticipant builds the anonymous-guest variant.
func GuestParticipant(name, email string) Participant {
	return Participant{Guest: &GuestProfile{Name: name, Email: email}}
}

// Validate rejects participants that are neither or both variants.
func (p Participant) Validate() error {
	if (p.UserID == "") == (p.Guest == nil) {
		return ErrInvalidParticipant
	}
	if p.Guest != nil && (p.Guest.Name == "" || p.Guest.Email == "") {
		return ErrInvalidParticipant
	}
	return nil
}

// IsGuest reports whether the participant is anonymous.
func (p Participant) IsGuest() bool {
	return p.Guest != nil
}

// DisplayName returns the name shown to the other side of the chat.
func (p Participant) DisplayName() string {
	if p.Guest != nil {
		return p.Guest.Name
	}
	return p.UserID
}

// Session is one customer-or-guest-to-agent conversation.
//
// Token is the externally shareable identifier handed to the customer at
// creation; ID stays internal. AgentID is empty until an agent claims
// the session and never changes afterwards. UpdatedAt is the
// last-activity marker used to order active-chat views.
type Session struct {
	ID          string      `json:"id"`
	Token       string      `json:"token"`
	Participant Participant `json:"participant"`
	AgentID     string      `json:"agentId,omitempty"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	ClosedAt    *time.Time  `json:"closedAt,omitempty"`
}

// Claim transitions the session to active under the given agent.
// Legal only from waiting.
func (s *Session) Claim(agentID string, at time.Time) error {
	if s.Status != StatusWaiting {
		return ErrInvalidTransition
	}
	started := at
	s.AgentID = agentID
	s.Status = StatusActive
	s.StartedAt = &started
	s.UpdatedAt = at
	return nil
}

// Close transitions the session to closed. Legal from waiting or
// active; closing twice is an error, not a no-op.
func (s *Session) Close(at time.Time) error {
	if s.Status == StatusClosed {
		return ErrInvalidTransition
	}
	closed := at
	s.Status = StatusClosed
	s.ClosedAt = &closed
	s.UpdatedAt = at
	return nil
}

// Touch advances the last-activity marker.
func (s *Session) Touch(at time.Time) {
	if at.After(s.UpdatedAt) {
		s.UpdatedAt = at
	}
}
