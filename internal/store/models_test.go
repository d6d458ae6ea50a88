package store

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Role
	}{
		{"user", "user", RoleUser},
		{"moderator", "moderator", RoleModerator},
		{"admin", "admin", RoleAdmin},
		{"empty string defaults to user", "", RoleUser},
		{"unknown value defaults to user", "superuser", RoleUser},
		{"case sensitive", "Admin", RoleUser},
		{"whitespace is not trimmed", " admin", RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRole(tt.input); got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
