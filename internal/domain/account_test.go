package domain

import "testing"

func TestCanDeleteKBFile(t *testing.T) {
	uploader := int64(7)
	file := KBFile{Name: "a.md", UploaderUserID: &uploader}
	admin := User{ID: 1, IsAdmin: true}
	owner := User{ID: 7}
	other := User{ID: 8}

	tests := []struct {
		name   string
		policy KBDeletePolicy
		user   User
		want   bool
	}{
		{"admin_only admin", KBDeleteAdminOnly, admin, true},
		{"admin_only owner", KBDeleteAdminOnly, owner, false},
		{"uploader_only owner", KBDeleteUploaderOnly, owner, true},
		{"uploader_only other", KBDeleteUploaderOnly, other, false},
		{"uploader_only admin", KBDeleteUploaderOnly, admin, true},
		{"all_users other", KBDeleteAllUsers, other, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanDeleteKBFile(tt.policy, tt.user, file); got != tt.want {
				t.Errorf("CanDeleteKBFile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanDeleteKBFile_UnknownUploader(t *testing.T) {
	if CanDeleteKBFile(KBDeleteUploaderOnly, User{ID: 3}, KBFile{Name: "x.md"}) {
		t.Error("expected non-admin to be denied for a file without uploader")
	}
}

func TestParsePolicies_FallBackToAdminOnly(t *testing.T) {
	if got := ParseKBDeletePolicy("everyone"); got != KBDeleteAdminOnly {
		t.Errorf("expected admin_only, got %q", got)
	}
	if got := ParseKBDeletePolicy("uploader_only"); got != KBDeleteUploaderOnly {
		t.Errorf("expected uploader_only, got %q", got)
	}
	if got := ParseKBReindexPolicy(""); got != KBReindexAdminOnly {
		t.Errorf("expected admin_only, got %q", got)
	}
	if !CanReindex(ParseKBReindexPolicy("all_users"), User{ID: 2}) {
		t.Error("expected all_users policy to allow reindex")
	}
}
