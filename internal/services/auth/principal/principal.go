// Package principal provides the identity model for human actors.
package principal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/ferrogym/ferrogym/internal/platform/errors"
	"github.com/ferrogym/ferrogym/internal/platform/id"
)

// Role describes the access level of a principal.
type Role string

const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodePrincipalEmailEmpty, "email is required")
	// ErrInvalidEmail indicates an email that does not match the required format.
	ErrInvalidEmail = apperrors.New(apperrors.CodePrincipalEmailInvalid, "email address is not valid")
	// ErrInvalidRole indicates an unknown role value.
	ErrInvalidRole = apperrors.New(apperrors.CodePrincipalInvalidRole, "role must be member, staff, or admin")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Principal represents a stable human identity. Identifiers are opaque and
// never recycled; deactivation flips Active instead of deleting the record.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
	Role        Role
	Active      bool
	CreatedAt   time.Time
}

// CreateInput describes the metadata needed to create a principal.
type CreateInput struct {
	Email       string
	DisplayName string
	Role        Role
}

// ValidRole reports whether the role is one of the known access levels.
func ValidRole(r Role) bool {
	switch r {
	case RoleMember, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// NormalizeEmail lowercases and trims an email for case-insensitive matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create builds a durable principal identity from untrusted input.
//
// Principals start inactive; the registration ceremony flips Active once the
// first credential is verified.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Principal, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return Principal{}, err
	}

	principalID, err := idGenerator()
	if err != nil {
		return Principal{}, fmt.Errorf("generate principal id: %w", err)
	}

	return Principal{
		ID:          principalID,
		Email:       normalized.Email,
		DisplayName: normalized.DisplayName,
		Role:        normalized.Role,
		Active:      false,
		CreatedAt:   now().UTC(),
	}, nil
}

// NormalizeCreateInput trims and normalizes input before validation.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.Email = NormalizeEmail(input.Email)
	if input.Email == "" {
		return CreateInput{}, ErrEmptyEmail
	}
	if !emailPattern.MatchString(input.Email) {
		return CreateInput{}, ErrInvalidEmail
	}
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.DisplayName == "" {
		input.DisplayName = input.Email
	}
	if input.Role == "" {
		input.Role = RoleMember
	}
	if !ValidRole(input.Role) {
		return CreateInput{}, ErrInvalidRole
	}
	return input, nil
}
