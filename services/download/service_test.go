package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/db/pagination"
	"payhuk-core/pkg/errutil"
	"payhuk-core/pkg/gateway"
	"payhuk-core/services/catalog"
	"payhuk-core/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSigner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSigner) PresignDownload(ctx context.Context, objectKey, filename string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://assets.test/" + objectKey + "?X-Amz-Expires=" + ttl.String(), nil
}

var issuedAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, maxUses int) (*Service, *gorm.DB, *fakeSigner) {
	t.Helper()

	db := testutil.NewTestDB(t, &catalog.Order{}, &catalog.Product{}, &DownloadToken{}, &AccessLog{})

	require.NoError(t, db.Create(&catalog.Product{
		ID:              "prod-1",
		Name:            "Guide Complet E-commerce",
		Type:            catalog.ProductDigital,
		ObjectKey:       "products/prod-1/guide.pdf",
		DownloadMaxUses: maxUses,
	}).Error)
	require.NoError(t, db.Create(&catalog.Order{
		ID:            "order-1",
		BuyerID:       "buyer-1",
		ProductID:     "prod-1",
		Status:        catalog.OrderCompleted,
		PaymentStatus: catalog.PaymentPaid,
	}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Download.MaxUses = 5
	cfg.Download.TokenTTL = 24 * time.Hour
	cfg.Download.PresignTTL = 5 * time.Minute

	signer := &fakeSigner{}
	svc := NewService(ServiceParams{
		Config: cfg,
		Repo:   NewRepository(db, catalog.NewRepository(db)),
		Caller: gateway.NewCallerWithTimeout(5 * time.Second),
		Node:   node,
		Signer: signer,
	})
	svc.now = func() time.Time { return issuedAt }

	return svc, db, signer
}

func issue(t *testing.T, svc *Service, key string) *DownloadToken {
	t.Helper()
	token, err := svc.RequestDownloadToken(context.Background(), IssueRequest{
		ProductID:      "prod-1",
		BuyerID:        "buyer-1",
		IdempotencyKey: key,
		IP:             "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)
	return token
}

func storedUseCount(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	var row DownloadToken
	require.NoError(t, db.Where("id = ?", id).Take(&row).Error)
	return row.UseCount
}

func TestRequestDownloadToken_NotEntitled(t *testing.T) {
	svc, db, _ := newTestService(t, 0)

	_, err := svc.RequestDownloadToken(context.Background(), IssueRequest{ProductID: "prod-1", BuyerID: "buyer-2"})
	require.ErrorIs(t, err, errutil.ErrNotEntitled)

	var count int64
	require.NoError(t, db.Model(&DownloadToken{}).Count(&count).Error)
	require.Zero(t, count)

	var entry AccessLog
	require.NoError(t, db.Where("buyer_id = ?", "buyer-2").Take(&entry).Error)
	require.Equal(t, OutcomeDenied, entry.Outcome)
	require.Equal(t, string(errutil.StatusNotEntitled), entry.Reason)
}

func TestRequestDownloadToken_UnpaidOrderIsNotEntitled(t *testing.T) {
	svc, db, _ := newTestService(t, 0)
	require.NoError(t, db.Create(&catalog.Order{
		ID:            "order-2",
		BuyerID:       "buyer-2",
		ProductID:     "prod-1",
		Status:        catalog.OrderCompleted,
		PaymentStatus: catalog.PaymentPending,
	}).Error)

	_, err := svc.RequestDownloadToken(context.Background(), IssueRequest{ProductID: "prod-1", BuyerID: "buyer-2"})
	require.ErrorIs(t, err, errutil.ErrNotEntitled)
}

func TestRequestDownloadToken_UsesLimits(t *testing.T) {
	svc, db, _ := newTestService(t, 0)

	token := issue(t, svc, "")
	require.Equal(t, 5, token.MaxUses)
	require.Equal(t, 0, token.UseCount)
	require.Equal(t, issuedAt.Add(24*time.Hour), token.ExpiresAt)

	var row DownloadToken
	require.NoError(t, db.Where("id = ?", token.ID).Take(&row).Error)
	require.NotEqual(t, token.Token, row.TokenHash)
	require.Equal(t, HashToken(token.Token), row.TokenHash)
	require.Empty(t, row.Token)
}

func TestConsumeDownloadToken_ExhaustsAfterMaxUses(t *testing.T) {
	svc, db, signer := newTestService(t, 2)
	token := issue(t, svc, "")
	ctx := context.Background()

	first, err := svc.ConsumeDownloadToken(ctx, token.Token, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 1, first.Remaining)
	require.Equal(t, "guide-complet-e-commerce.pdf", first.Filename)
	require.Contains(t, first.URL, "products/prod-1/guide.pdf")

	second, err := svc.ConsumeDownloadToken(ctx, token.Token, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 0, second.Remaining)

	_, err = svc.ConsumeDownloadToken(ctx, token.Token, "10.0.0.1")
	require.ErrorIs(t, err, errutil.ErrTokenExhausted)

	require.Equal(t, 2, storedUseCount(t, db, token.ID))
	require.Equal(t, 2, signer.calls)

	var granted int64
	require.NoError(t, db.Model(&AccessLog{}).
		Where("token_id = ? AND kind = ? AND outcome = ?", token.ID, AccessConsume, OutcomeGranted).
		Count(&granted).Error)
	require.EqualValues(t, 2, granted)
}

func TestConsumeDownloadToken_Expired(t *testing.T) {
	svc, db, _ := newTestService(t, 0)
	token := issue(t, svc, "")

	svc.now = func() time.Time { return token.ExpiresAt }
	_, err := svc.ConsumeDownloadToken(context.Background(), token.Token, "")
	require.NoError(t, err)

	svc.now = func() time.Time { return token.ExpiresAt.Add(time.Second) }
	_, err = svc.ConsumeDownloadToken(context.Background(), token.Token, "")
	require.ErrorIs(t, err, errutil.ErrTokenExpired)
	require.Equal(t, 1, storedUseCount(t, db, token.ID))
}

func TestConsumeDownloadToken_UnknownSecret(t *testing.T) {
	svc, _, signer := newTestService(t, 0)

	_, err := svc.ConsumeDownloadToken(context.Background(), "not-a-token", "")
	require.ErrorIs(t, err, errutil.ErrTokenNotFound)

	_, err = svc.ConsumeDownloadToken(context.Background(), "", "")
	require.ErrorIs(t, err, errutil.ErrTokenNotFound)
	require.Zero(t, signer.calls)
}

func TestConsumeDownloadToken_Revoked(t *testing.T) {
	svc, db, _ := newTestService(t, 0)
	token := issue(t, svc, "")

	revoked, err := svc.RevokeDownloadToken(context.Background(), token.ID, "admin-1")
	require.NoError(t, err)
	require.True(t, revoked.Revoked)

	// second revoke is a no-op
	_, err = svc.RevokeDownloadToken(context.Background(), token.ID, "admin-1")
	require.NoError(t, err)

	_, err = svc.ConsumeDownloadToken(context.Background(), token.Token, "")
	require.ErrorIs(t, err, errutil.ErrTokenRevoked)
	require.Zero(t, storedUseCount(t, db, token.ID))

	_, err = svc.RevokeDownloadToken(context.Background(), "missing", "admin-1")
	require.ErrorIs(t, err, errutil.ErrTokenNotFound)
}

func TestConsumeDownloadToken_SignerFailureRollsBack(t *testing.T) {
	svc, db, signer := newTestService(t, 0)
	token := issue(t, svc, "")

	signer.err = errors.New("storage offline")
	_, err := svc.ConsumeDownloadToken(context.Background(), token.Token, "")
	require.Error(t, err)
	require.Zero(t, storedUseCount(t, db, token.ID))

	var granted int64
	require.NoError(t, db.Model(&AccessLog{}).
		Where("token_id = ? AND kind = ? AND outcome = ?", token.ID, AccessConsume, OutcomeGranted).
		Count(&granted).Error)
	require.Zero(t, granted)

	signer.err = nil
	dl, err := svc.ConsumeDownloadToken(context.Background(), token.Token, "")
	require.NoError(t, err)
	require.Equal(t, 4, dl.Remaining)
}

func TestConsumeDownloadToken_ConcurrentUseNeverExceedsLimit(t *testing.T) {
	svc, db, _ := newTestService(t, 3)
	token := issue(t, svc, "")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		exhausted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConsumeDownloadToken(context.Background(), token.Token, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, errutil.ErrTokenExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, successes)
	require.Equal(t, 7, exhausted)
	require.Equal(t, 3, storedUseCount(t, db, token.ID))
}

func TestRequestDownloadToken_IdempotencyKey(t *testing.T) {
	svc, db, _ := newTestService(t, 0)
	ctx := context.Background()

	first := issue(t, svc, "checkout-42")
	retry := issue(t, svc, "checkout-42")

	require.Equal(t, first.ID, retry.ID)
	require.NotEqual(t, first.Token, retry.Token)

	var count int64
	require.NoError(t, db.Model(&DownloadToken{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	// the rotated secret replaces the first one
	_, err := svc.ConsumeDownloadToken(ctx, first.Token, "")
	require.ErrorIs(t, err, errutil.ErrTokenNotFound)
	_, err = svc.ConsumeDownloadToken(ctx, retry.Token, "")
	require.NoError(t, err)

	// once used the key cannot mint a fresh secret
	_, err = svc.RequestDownloadToken(ctx, IssueRequest{ProductID: "prod-1", BuyerID: "buyer-1", IdempotencyKey: "checkout-42"})
	require.ErrorIs(t, err, errutil.ErrIdempotencyConflict)
}

func TestListAccessLogs_Pages(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	token := issue(t, svc, "")

	for i := 0; i < 3; i++ {
		svc.now = func() time.Time { return issuedAt.Add(time.Duration(i+1) * time.Minute) }
		_, err := svc.ConsumeDownloadToken(context.Background(), token.Token, "")
		require.NoError(t, err)
	}

	page, info, err := svc.ListAccessLogs(context.Background(), token.ID, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	rest, info, err := svc.ListAccessLogs(context.Background(), token.ID, pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, info.HasMore)

	seen := map[string]bool{}
	for _, l := range append(page, rest...) {
		require.False(t, seen[l.ID])
		seen[l.ID] = true
	}
}

func TestFilename(t *testing.T) {
	require.Equal(t, "mon-ebook.epub", Filename(&catalog.Product{Name: "Mon eBook!", ObjectKey: "a/b/file.epub"}))
	require.Equal(t, "file.zip", Filename(&catalog.Product{Name: "", ObjectKey: "a/b/file.zip"}))
}
