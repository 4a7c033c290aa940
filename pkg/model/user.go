package model

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// NormalizeRole maps unknown role strings to viewer, the least privileged role.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return Role(role)
	default:
		return RoleViewer
	}
}

// CanEdit reports whether the role may modify the document, commit
// attributions, or save versions.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleEditor
}

// CanPromote reports whether the role may promote chat messages to intents.
func (r Role) CanPromote() bool {
	return r == RoleOwner || r == RoleAdmin
}

type UserStatus string

const (
	StatusActive  UserStatus = "active"
	StatusIdle    UserStatus = "idle"
	StatusViewing UserStatus = "viewing"
)

// CollaborativeUser is one entry in a workspace's presence roster. Identity
// is the user id, not the connection: reconnects keep the same entry.
type CollaborativeUser struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	Role     Role       `json:"role"`
	Color    string     `json:"color"`
	Status   UserStatus `json:"status"`
}
