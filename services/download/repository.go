package download

import (
	"context"
	"errors"
	"time"

	"payhuk-core/pkg/db/pagination"
	"payhuk-core/pkg/errutil"
	"payhuk-core/services/catalog"

	"gorm.io/gorm"
)

type Repository struct {
	db      *gorm.DB
	catalog *catalog.Repository
}

func NewRepository(db *gorm.DB, catalog *catalog.Repository) *Repository {
	return &Repository{db: db, catalog: catalog}
}

type IssueParams struct {
	TokenID        string
	ProductID      string
	BuyerID        string
	IdempotencyKey string
	TokenHash      string
	Now            time.Time
	DefaultMaxUses int
	DefaultTTL     time.Duration
}

// Issue checks the buyer's entitlement and creates the token row in one
// gateway transaction. A repeated idempotency key returns the row created
// by the first attempt with its secret rotated to TokenHash, as long as it
// has not been used yet.
func (r *Repository) Issue(ctx context.Context, p IssueParams) (*DownloadToken, error) {
	var token *DownloadToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := r.catalog.EntitledOrder(ctx, tx, p.BuyerID, p.ProductID)
		if err != nil {
			return err
		}
		if order == nil {
			return errutil.ErrNotEntitled
		}

		if p.IdempotencyKey != "" {
			existing, err := r.findByIdempotencyKey(ctx, tx, p.BuyerID, p.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				token, err = r.rotate(ctx, tx, existing, p)
				return err
			}
		}

		product, err := r.catalog.GetProduct(ctx, tx, p.ProductID)
		if err != nil {
			return err
		}

		maxUses, ttl := p.DefaultMaxUses, p.DefaultTTL
		if product != nil && product.DownloadMaxUses > 0 {
			maxUses = product.DownloadMaxUses
		}
		if product != nil && product.DownloadTTL() > 0 {
			ttl = product.DownloadTTL()
		}

		token = &DownloadToken{
			ID:        p.TokenID,
			ProductID: p.ProductID,
			BuyerID:   p.BuyerID,
			OrderID:   order.ID,
			TokenHash: p.TokenHash,
			IssuedAt:  p.Now,
			ExpiresAt: p.Now.Add(ttl),
			MaxUses:   maxUses,
			UseCount:  0,
		}
		if p.IdempotencyKey != "" {
			key := p.IdempotencyKey
			token.IdempotencyKey = &key
		}

		return tx.Create(token).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race against a retry carrying the same key
		return nil, errutil.Wrap(errutil.ErrIdempotencyConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (r *Repository) findByIdempotencyKey(ctx context.Context, tx *gorm.DB, buyerID, key string) (*DownloadToken, error) {
	var token DownloadToken
	err := tx.WithContext(ctx).
		Where("buyer_id = ? AND idempotency_key = ?", buyerID, key).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *Repository) rotate(ctx context.Context, tx *gorm.DB, existing *DownloadToken, p IssueParams) (*DownloadToken, error) {
	if existing.ProductID != p.ProductID {
		return nil, errutil.ErrIdempotencyConflict
	}

	res := tx.WithContext(ctx).Model(&DownloadToken{}).
		Where("id = ? AND use_count = 0 AND revoked = ?", existing.ID, false).
		Updates(map[string]any{"token_hash": p.TokenHash, "updated_at": p.Now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Wrap(errutil.ErrIdempotencyConflict, nil, errutil.WithDetails(errutil.Detail{
			Field:   "idempotency_key",
			Message: "the token issued for this key is already in use",
		}))
	}

	existing.TokenHash = p.TokenHash
	return existing, nil
}

// Resolver turns a consumed token into the URL handed to the buyer. It runs
// inside the consume transaction; an error rolls the use back.
type Resolver func(ctx context.Context, token *DownloadToken, product *catalog.Product) (string, error)

// Consume spends one use of the token identified by hash. The conditional
// increment, the URL resolution and the access-log insert commit together
// or not at all.
func (r *Repository) Consume(ctx context.Context, hash string, now time.Time, entry *AccessLog, resolve Resolver) (*DownloadToken, string, error) {
	var (
		token   DownloadToken
		fileURL string
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DownloadToken{}).
			Where("token_hash = ? AND revoked = ? AND expires_at >= ? AND use_count < max_uses", hash, false, now).
			Updates(map[string]any{
				"use_count":  gorm.Expr("use_count + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		if err := tx.Where("token_hash = ?", hash).Take(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.ErrTokenNotFound
			}
			return err
		}

		if res.RowsAffected == 0 {
			return rejection(&token, now)
		}

		product, err := r.catalog.GetProduct(ctx, tx, token.ProductID)
		if err != nil {
			return err
		}
		if product == nil || product.ObjectKey == "" {
			return errutil.NotFound("product has no downloadable file", nil)
		}

		fileURL, err = resolve(ctx, &token, product)
		if err != nil {
			return err
		}

		tokenID := token.ID
		entry.TokenID = &tokenID
		entry.ProductID = token.ProductID
		entry.BuyerID = token.BuyerID
		entry.Kind = AccessConsume
		entry.Outcome = OutcomeGranted
		return tx.Create(entry).Error
	})
	if err != nil {
		if token.ID != "" {
			return &token, "", err
		}
		return nil, "", err
	}

	return &token, fileURL, nil
}

// rejection explains why the conditional increment matched no row.
func rejection(t *DownloadToken, now time.Time) error {
	switch {
	case t.Revoked:
		return errutil.ErrTokenRevoked
	case now.After(t.ExpiresAt):
		return errutil.ErrTokenExpired
	case t.UseCount >= t.MaxUses:
		return errutil.ErrTokenExhausted
	default:
		return errutil.Conflict("download token changed concurrently, retry", nil)
	}
}

// Revoke marks the token revoked. Revoking twice is a no-op.
func (r *Repository) Revoke(ctx context.Context, tokenID string, now time.Time) (*DownloadToken, error) {
	var token DownloadToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&DownloadToken{}).
			Where("id = ? AND revoked = ?", tokenID, false).
			Updates(map[string]any{"revoked": true, "revoked_at": now, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", tokenID).Take(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.ErrTokenNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *Repository) GetToken(ctx context.Context, tokenID string) (*DownloadToken, error) {
	var token DownloadToken
	err := r.db.WithContext(ctx).Where("id = ?", tokenID).Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *Repository) CreateAccessLog(ctx context.Context, entry *AccessLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListAccessLogs pages through a token's audit trail, newest first.
func (r *Repository) ListAccessLogs(ctx context.Context, tokenID string, page pagination.Pagination) ([]*AccessLog, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 || limit > 250 {
		limit = 10
	}

	query := r.db.WithContext(ctx).Where("token_id = ?", tokenID)
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", at, at, cursor.ID)
	}

	var logs []*AccessLog
	if err := query.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&logs).Error; err != nil {
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(logs, int32(limit), func(l *AccessLog) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{CreatedAt: l.CreatedAt.Format(time.RFC3339Nano), ID: l.ID})
		return c
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, info, nil
}
