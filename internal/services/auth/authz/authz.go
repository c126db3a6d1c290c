// Package authz decides whether a principal may mutate an object.
package authz

import (
	"net/http"
	"strings"
)

// Owned is implemented by objects that track their creator.
type Owned interface {
	CreatedBy() string
}

// Authored is implemented by objects with an author attribute.
type Authored interface {
	Author() string
}

// MemberOwned is implemented by records attached to a member account.
type MemberOwned interface {
	MemberPrincipal() string
}

// MayModify reports whether a principal may perform the given HTTP method on
// an object. Safe methods are always allowed. For mutations, ownership is
// resolved by the first attribute the object carries, checked in a fixed
// order: creator, then author, then owning member. An object with none of
// them cannot be modified through this predicate.
func MayModify(principalID string, object any, method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	principalID = strings.TrimSpace(principalID)
	if principalID == "" || object == nil {
		return false
	}

	if owned, ok := object.(Owned); ok {
		return owned.CreatedBy() == principalID
	}
	if authored, ok := object.(Authored); ok {
		return authored.Author() == principalID
	}
	if memberOwned, ok := object.(MemberOwned); ok {
		return memberOwned.MemberPrincipal() == principalID
	}
	return false
}
