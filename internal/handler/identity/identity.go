// Package identity resolves the caller's identity and role for a
// request. Authentication itself happens upstream (gateway or auth
// middleware); this package trusts the forwarded classification and
// does not re-verify credentials.
package identity

import (
	"net/http"

	"github.com/mirelon-dev/halodesk/pkg/utils"
)

// Role classifies the caller.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAgent     Role = "agent"
	RoleAnonymous Role = "anonymous"
)

// Headers set by the upstream identity provider.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	HeaderUserName = "X-User-Name"
)

// Identity is the resolved caller.
type Identity struct {
	ID   string
	Name string
	Role Role
}

// IsAgent reports whether the caller is a support agent.
func (id Identity) IsAgent() bool {
	return id.Role == RoleAgent && id.ID != ""
}

// IsCustomer reports whether the caller is a registered customer.
func (id Identity) IsCustomer() bool {
	return id.Role == RoleCustomer && id.ID != ""
}

// FromRequest reads the caller identity from the forwarded headers.
// Requests without identity headers are anonymous guests.
func FromRequest(r *http.Request) Identity {
	id := Identity{
		ID:   r.Header.Get(HeaderUserID),
		Name: r.Header.Get(HeaderUserName),
		Role: RoleAnonymous,
	}
	switch Role(r.Header.Get(HeaderUserRole)) {
	case RoleCustomer:
		id.Role = RoleCustomer
	case RoleAgent:
		id.Role = RoleAgent
	}
	return id
}

// RequireAgent rejects requests whose caller is not an agent.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromRequest(r).IsAgent() {
			utils.RespondError(w, http.StatusForbidden, "agent role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
