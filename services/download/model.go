package download

import (
	"time"

	"gorm.io/datatypes"
)

// DownloadToken is a time- and use-limited credential for one purchased
// asset. Only the SHA-256 of the secret is stored; Token is filled in once,
// on issuance, and is never persisted or logged.
type DownloadToken struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	ProductID      string     `gorm:"column:product_id;index;not null" json:"product_id"`
	BuyerID        string     `gorm:"column:buyer_id;not null;uniqueIndex:idx_download_tokens_buyer_idem" json:"buyer_id"`
	OrderID        string     `gorm:"column:order_id;not null" json:"order_id"`
	TokenHash      string     `gorm:"column:token_hash;uniqueIndex;not null" json:"-"`
	IdempotencyKey *string    `gorm:"column:idempotency_key;uniqueIndex:idx_download_tokens_buyer_idem" json:"-"`
	IssuedAt       time.Time  `gorm:"column:issued_at;not null" json:"issued_at"`
	ExpiresAt      time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	MaxUses        int        `gorm:"column:max_uses;not null" json:"max_uses"`
	UseCount       int        `gorm:"column:use_count;not null;default:0" json:"use_count"`
	Revoked        bool       `gorm:"column:revoked;not null;default:false" json:"revoked"`
	RevokedAt      *time.Time `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Token string `gorm:"-" json:"token,omitempty"`
}

func (DownloadToken) TableName() string { return "download_tokens" }

// Remaining is the number of downloads left on the token.
func (t *DownloadToken) Remaining() int {
	if t.UseCount >= t.MaxUses {
		return 0
	}
	return t.MaxUses - t.UseCount
}

type AccessKind string

const (
	AccessIssue   AccessKind = "issue"
	AccessConsume AccessKind = "consume"
	AccessRevoke  AccessKind = "revoke"
)

type AccessOutcome string

const (
	OutcomeGranted AccessOutcome = "granted"
	OutcomeDenied  AccessOutcome = "denied"
	OutcomeError   AccessOutcome = "error"
)

// AccessLog is the audit trail of every issuance and download attempt.
// It references tokens by id only.
type AccessLog struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	Kind      AccessKind     `gorm:"column:kind;not null" json:"kind"`
	TokenID   *string        `gorm:"column:token_id;index" json:"token_id,omitempty"`
	ProductID string         `gorm:"column:product_id;index" json:"product_id"`
	BuyerID   string         `gorm:"column:buyer_id" json:"buyer_id"`
	IP        string         `gorm:"column:ip" json:"ip,omitempty"`
	Outcome   AccessOutcome  `gorm:"column:outcome;not null" json:"outcome"`
	Reason    string         `gorm:"column:reason" json:"reason,omitempty"`
	Metadata  datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;index;autoCreateTime" json:"created_at"`
}

func (AccessLog) TableName() string { return "download_access_logs" }
