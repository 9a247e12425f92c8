// Package cart holds guest and user carts, their lifecycle sessions, and the
// guest-to-user migration run at login.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// OwnerKind says whether a cart belongs to an anonymous session or a signed-in user.
type OwnerKind string

const (
	KindSession OwnerKind = "session"
	KindUser    OwnerKind = "user"
)

// ErrNoOwner means neither a user nor a guest session identifies the cart.
var ErrNoOwner = errors.New("cart owner unknown")

// Owner is the single owner reference of a cart row.
type Owner struct {
	Kind OwnerKind
	ID   string
}

// SessionOwner returns the owner for a guest session id.
func SessionOwner(sessionID string) Owner { return Owner{Kind: KindSession, ID: sessionID} }

// UserOwner returns the owner for an authenticated user id.
func UserOwner(userID string) Owner { return Owner{Kind: KindUser, ID: userID} }

// Key is the partition key stored on cart rows, e.g. "session#abc".
func (o Owner) Key() string { return string(o.Kind) + "#" + o.ID }

func (o Owner) String() string { return o.Key() }

// ParseOwner reverses Key.
func ParseOwner(key string) (Owner, error) {
	kind, id, ok := strings.Cut(key, "#")
	if !ok || id == "" || (OwnerKind(kind) != KindSession && OwnerKind(kind) != KindUser) {
		return Owner{}, fmt.Errorf("invalid owner key %q", key)
	}
	return Owner{Kind: OwnerKind(kind), ID: id}, nil
}

// SessionIdentityProvider is the client-side holder of the guest session id.
type SessionIdentityProvider interface {
	// GuestSessionID returns the locally stored guest session id, if any.
	GuestSessionID(ctx context.Context) (string, bool)
	// ClearGuestSession discards the locally stored guest session id.
	ClearGuestSession(ctx context.Context) error
}

// StaticIdentity is a SessionIdentityProvider over a fixed value.
type StaticIdentity struct {
	ID      string
	Cleared bool
}

func (s *StaticIdentity) GuestSessionID(context.Context) (string, bool) {
	if s.Cleared || s.ID == "" {
		return "", false
	}
	return s.ID, true
}

func (s *StaticIdentity) ClearGuestSession(context.Context) error {
	s.Cleared = true
	return nil
}

// ResolveOwner picks the user when signed in, otherwise the guest session.
func ResolveOwner(ctx context.Context, userID string, ids SessionIdentityProvider) (Owner, error) {
	if userID != "" {
		return UserOwner(userID), nil
	}
	if ids != nil {
		if sid, ok := ids.GuestSessionID(ctx); ok {
			return SessionOwner(sid), nil
		}
	}
	return Owner{}, ErrNoOwner
}
