package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	ErrRoleNameTooLong  = errors.New("role name too long")
	ErrRoleNameReserved = errors.New("role name reserved")
)

// RoleNameError carries the client-facing message for a rejected role name.
type RoleNameError struct {
	Kind    error
	Message string
}

func (e *RoleNameError) Error() string { return e.Message }

func (e *RoleNameError) Unwrap() error { return e.Kind }

// RoleNamePolicy normalizes role names supplied at registration.
type RoleNamePolicy struct {
	Default   string
	MaxLength int
	Reserved  []string
}

// Normalize trims raw and applies, in order: blank defaulting, the length
// limit and the reserved-name check. Reserved names match case-sensitively.
func (p RoleNamePolicy) Normalize(raw *string) (string, error) {
	if raw == nil {
		return p.Default, nil
	}

	name := strings.TrimSpace(*raw)
	if name == "" {
		return p.Default, nil
	}

	if utf8.RuneCountInString(name) > p.MaxLength {
		return "", &RoleNameError{
			Kind:    ErrRoleNameTooLong,
			Message: fmt.Sprintf("Role name can not be longer than %d chars", p.MaxLength),
		}
	}

	if slices.Contains(p.Reserved, name) {
		return "", &RoleNameError{
			Kind:    ErrRoleNameReserved,
			Message: fmt.Sprintf("Role name can not be %s", name),
		}
	}

	return name, nil
}
