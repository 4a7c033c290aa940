package model

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRolePermissions(t *testing.T) {
	cases := []struct {
		role       Role
		canEdit    bool
		canPromote bool
	}{
		{RoleOwner, true, true},
		{RoleAdmin, true, true},
		{RoleEditor, true, false},
		{RoleViewer, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			if got := tc.role.CanEdit(); got != tc.canEdit {
				t.Errorf("CanEdit() = %v, want %v", got, tc.canEdit)
			}
			if got := tc.role.CanPromote(); got != tc.canPromote {
				t.Errorf("CanPromote() = %v, want %v", got, tc.canPromote)
			}
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{"owner", RoleOwner},
		{"admin", RoleAdmin},
		{"editor", RoleEditor},
		{"viewer", RoleViewer},
		{"", RoleViewer},
		{"superuser", RoleViewer},
	}
	for _, tc := range cases {
		if got := NormalizeRole(tc.in); got != tc.want {
			t.Errorf("NormalizeRole(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncateContent(t *testing.T) {
	if got := TruncateContent("hello"); got != "hello" {
		t.Errorf("short content modified: %q", got)
	}

	long := strings.Repeat("x", MaxChatContentLen+100)
	got := TruncateContent(long)
	if len(got) != MaxChatContentLen {
		t.Errorf("truncated length = %d, want %d", len(got), MaxChatContentLen)
	}

	// Truncation must not split a multi-byte rune.
	multibyte := strings.Repeat("é", MaxChatContentLen)
	got = TruncateContent(multibyte)
	if len(got) > MaxChatContentLen {
		t.Errorf("truncated length = %d exceeds cap", len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
}

func TestAttributionDisplayName(t *testing.T) {
	cases := []struct {
		name string
		attr BlockAttribution
		want string
	}{
		{"snapshot name", BlockAttribution{LastEditorName: "alice", LastEditorID: "u1"}, "alice"},
		{"fallback to id", BlockAttribution{LastEditorID: "u1"}, "u1"},
		{"fallback to unknown", BlockAttribution{}, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.attr.DisplayName(); got != tc.want {
				t.Errorf("DisplayName() = %q, want %q", got, tc.want)
			}
		})
	}
}
