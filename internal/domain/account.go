package domain

import "time"

// DefaultDepartment is assigned to users created without a department.
const DefaultDepartment = "default"

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// User is an authenticated principal of the HTTP façade.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	IsAdmin    bool      `json:"is_admin"`
	Department string    `json:"department"`
	CreatedAt  time.Time `json:"created_at"`
}

// Credentials holds the stored password material of a user.
type Credentials struct {
	UserID int64
	Salt   []byte
	Hash   []byte
}

// APIToken is an issued API key. The plaintext is returned only once at creation.
type APIToken struct {
	ID         int64
	UserID     int64
	Name       string
	Prefix     string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Department groups users.
type Department struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// KBFile is a knowledge-base file together with its upload metadata.
type KBFile struct {
	Name           string     `json:"name"`
	SizeBytes      int64      `json:"size_bytes"`
	ModifiedAt     time.Time  `json:"modified_at"`
	UploaderUserID *int64     `json:"uploader_user_id,omitempty"`
	UploadedAt     *time.Time `json:"uploaded_at,omitempty"`
}

// AuditEvent records a user-initiated action.
type AuditEvent struct {
	ID        int64
	UserID    *int64
	Action    string
	Target    string
	Details   string
	CreatedAt time.Time
}

// Audit actions.
const (
	AuditTokenCreate   = "api_token.create"
	AuditTokenRevoke   = "api_token.revoke"
	AuditThreadCreate  = "thread.create"
	AuditThreadDelete  = "thread.delete"
	AuditMessageHuman  = "thread.message.human"
	AuditMessageAI     = "thread.message.ai"
	AuditKBUpload      = "kb.upload"
	AuditKBDelete      = "kb.delete"
	AuditKBReindex     = "kb.reindex"
	AuditSettingUpdate = "setting.update"
)

// KBDeletePolicy decides who may delete knowledge-base files.
type KBDeletePolicy string

const (
	KBDeleteAdminOnly    KBDeletePolicy = "admin_only"
	KBDeleteAllUsers     KBDeletePolicy = "all_users"
	KBDeleteUploaderOnly KBDeletePolicy = "uploader_only"
)

// KBReindexPolicy decides who may trigger a knowledge-base reindex.
type KBReindexPolicy string

const (
	KBReindexAdminOnly KBReindexPolicy = "admin_only"
	KBReindexAllUsers  KBReindexPolicy = "all_users"
)

// Setting keys.
const (
	SettingKBDeletePolicy  = "kb_delete_policy"
	SettingKBReindexPolicy = "kb_reindex_policy"
)

// ParseKBDeletePolicy returns the policy for s, falling back to admin_only for unknown values.
func ParseKBDeletePolicy(s string) KBDeletePolicy {
	switch p := KBDeletePolicy(s); p {
	case KBDeleteAllUsers, KBDeleteUploaderOnly, KBDeleteAdminOnly:
		return p
	default:
		return KBDeleteAdminOnly
	}
}

// ParseKBReindexPolicy returns the policy for s, falling back to admin_only for unknown values.
func ParseKBReindexPolicy(s string) KBReindexPolicy {
	if p := KBReindexPolicy(s); p == KBReindexAllUsers {
		return p
	}
	return KBReindexAdminOnly
}

// CanDeleteKBFile reports whether u may delete a file under policy.
func CanDeleteKBFile(policy KBDeletePolicy, u User, f KBFile) bool {
	switch policy {
	case KBDeleteAllUsers:
		return true
	case KBDeleteUploaderOnly:
		return u.IsAdmin || (f.UploaderUserID != nil && *f.UploaderUserID == u.ID)
	default:
		return u.IsAdmin
	}
}

// CanReindex reports whether u may trigger a reindex under policy.
func CanReindex(policy KBReindexPolicy, u User) bool {
	return policy == KBReindexAllUsers || u.IsAdmin
}
