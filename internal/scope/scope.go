// Package scope canonicalizes the identifiers that every memory operation
// carries and enforces who may write or read under them (spec §4.1).
package scope

import (
	"errors"
	"strings"

	"github.com/powermem/powermem/internal/store"
)

// ErrMissingScope is returned when a write omits both user_id and agent_id,
// or an external read supplies no identifiers at all.
var ErrMissingScope = errors.New("scope: at least one of user_id or agent_id is required")

// Request is the raw, caller-supplied scope before canonicalization.
type Request struct {
	UserID    string
	AgentID   string
	RunID     string
	ActorID   string
	// Unfiltered allows a read with no identifiers to proceed unscoped.
	// Only internal callers (maintenance jobs, admin tooling) may set this;
	// it is never honored for a write.
	Unfiltered bool
}

// Resolved is the canonical scope plus the filter callers should pass to
// store backends.
type Resolved struct {
	Scope  store.Scope
	Filter store.Filter
}

// canonical trims whitespace and treats blank strings as absent.
func canonical(v string) string {
	return strings.TrimSpace(v)
}

// ForWrite canonicalizes r and enforces the write access rule: at least one
// of user_id or agent_id must be present.
func ForWrite(r Request) (Resolved, error) {
	sc := store.Scope{
		UserID:  canonical(r.UserID),
		AgentID: canonical(r.AgentID),
		RunID:   canonical(r.RunID),
		ActorID: canonical(r.ActorID),
	}
	if sc.UserID == "" && sc.AgentID == "" {
		return Resolved{}, ErrMissingScope
	}
	return Resolved{Scope: sc, Filter: filterFor(sc)}, nil
}

// ForRead canonicalizes r and enforces the read access rule: callers other
// than internal ones (Unfiltered) must supply at least one identifier. A
// read that supplies user_id, agent_id, and run_id is strictly scoped; a
// read with only agent_id spans every user under that agent (agent-group
// memory), and symmetrically for only user_id (user-group memory).
func ForRead(r Request) (Resolved, error) {
	sc := store.Scope{
		UserID:  canonical(r.UserID),
		AgentID: canonical(r.AgentID),
		RunID:   canonical(r.RunID),
		ActorID: canonical(r.ActorID),
	}
	if sc.IsZero() && !r.Unfiltered {
		return Resolved{}, ErrMissingScope
	}
	return Resolved{Scope: sc, Filter: filterFor(sc)}, nil
}

// filterFor builds the scope-equality filter a store backend ANDs against
// any caller-supplied metadata clauses. An absent identifier in sc is
// simply not matched against, which is what makes a partial scope a group
// read rather than a strict one: filt.Scope.AgentID set with UserID empty
// matches every user under that agent.
func filterFor(sc store.Scope) store.Filter {
	return store.Filter{Scope: sc}
}
