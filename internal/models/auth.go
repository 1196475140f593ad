package models

import "strings"

// Permission is the authorization scope attached to a session.
type Permission string

const (
	PermissionReadOnly  Permission = "READ_ONLY"
	PermissionReadWrite Permission = "READ_WRITE"
)

// ParsePermission maps the identity service's scope strings onto a
// Permission. Anything unrecognised is read-only.
func ParsePermission(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read_write", "read-write", "readwrite", "write", "rw", "edit":
		return PermissionReadWrite
	default:
		return PermissionReadOnly
	}
}

func (p Permission) CanWrite() bool {
	return p == PermissionReadWrite
}

// AuthResult is what the identity service tells us about a credential.
// It is recomputed for every connection attempt and never stored.
type AuthResult struct {
	UserID     string     `json:"userId"`
	Nickname   string     `json:"nickname"`
	AvatarURL  string     `json:"avatarUrl,omitempty"`
	Permission Permission `json:"permission"`
}
