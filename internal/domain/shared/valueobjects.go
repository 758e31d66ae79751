// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// StudentID identifies a student profile supplied by the identity collaborator.
// The engine does not own students, so any non-empty reference is accepted.
type StudentID string

// IsValid checks if the ID is set.
func (s StudentID) IsValid() bool { return strings.TrimSpace(string(s)) != "" }

// String returns the string representation.
func (s StudentID) String() string { return string(s) }

// CompanyID identifies a CompanyMaster row.
type CompanyID string

// IsValid checks if the ID is set.
func (c CompanyID) IsValid() bool { return strings.TrimSpace(string(c)) != "" }

// String returns the string representation.
func (c CompanyID) String() string { return string(c) }

// NewID returns a fresh random identifier for an engine-owned entity.
func NewID() string {
	return uuid.NewString()
}

// ParseID normalizes and validates an engine-owned identifier.
func ParseID(domain, raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if _, err := uuid.Parse(id); err != nil {
		return "", WrapError(domain, "ParseID", ErrInvalidID, "malformed id "+raw, err)
	}
	return id, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Text helpers
// ═══════════════════════════════════════════════════════════════════════════

// AppendNote appends line to an audit-trail note without discarding earlier
// content.
func AppendNote(note, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return note
	}
	if strings.TrimSpace(note) == "" {
		return line
	}
	return note + "\n" + line
}
