package download

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/db/pagination"
	"payhuk-core/pkg/errutil"
	"payhuk-core/pkg/gateway"
	"payhuk-core/services/catalog"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "download_token_attempts_total",
	Help: "Download token issuance and consumption attempts by outcome.",
}, []string{"kind", "outcome"})

func init() {
	prometheus.MustRegister(attemptsTotal)
}

// URLSigner produces the short-lived storage URL behind a download.
type URLSigner interface {
	PresignDownload(ctx context.Context, objectKey, filename string, ttl time.Duration) (string, error)
}

type Service struct {
	repo   *Repository
	caller *gateway.Caller
	node   *snowflake.Node
	signer URLSigner

	defaultMaxUses int
	defaultTTL     time.Duration
	presignTTL     time.Duration

	now func() time.Time
}

type ServiceParams struct {
	fx.In

	Config *config.Config
	Repo   *Repository
	Caller *gateway.Caller
	Node   *snowflake.Node
	Signer URLSigner
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:           p.Repo,
		caller:         p.Caller,
		node:           p.Node,
		signer:         p.Signer,
		defaultMaxUses: p.Config.Download.MaxUses,
		defaultTTL:     p.Config.Download.TokenTTL,
		presignTTL:     p.Config.Download.PresignTTL,
		now:            time.Now,
	}
}

type IssueRequest struct {
	ProductID      string
	BuyerID        string
	IdempotencyKey string
	IP             string
}

// RequestDownloadToken issues a token for a buyer holding a completed, paid
// order of the product. The returned token carries the secret in Token; it
// is the only time the secret is available.
func (s *Service) RequestDownloadToken(ctx context.Context, req IssueRequest) (*DownloadToken, error) {
	if req.ProductID == "" || req.BuyerID == "" {
		return nil, errutil.ValidationFailed("product_id and buyer_id are required", nil)
	}

	secret, hash, err := NewSecret()
	if err != nil {
		return nil, errutil.Internal("failed to generate download token", err)
	}

	params := IssueParams{
		TokenID:        s.node.Generate().String(),
		ProductID:      req.ProductID,
		BuyerID:        req.BuyerID,
		IdempotencyKey: req.IdempotencyKey,
		TokenHash:      hash,
		Now:            s.now().UTC(),
		DefaultMaxUses: s.defaultMaxUses,
		DefaultTTL:     s.defaultTTL,
	}

	var token *DownloadToken
	err = s.caller.Do(ctx, "download.issue", func(ctx context.Context) error {
		var err error
		token, err = s.repo.Issue(ctx, params)
		return err
	})
	if err != nil {
		attemptsTotal.WithLabelValues(string(AccessIssue), outcomeOf(err)).Inc()
		zap.L().Warn("[Download] token issuance rejected",
			zap.String("product_id", req.ProductID),
			zap.String("buyer_id", req.BuyerID),
			zap.String("reason", string(errutil.CodeOf(err))),
		)
		s.audit(ctx, &AccessLog{
			Kind:      AccessIssue,
			ProductID: req.ProductID,
			BuyerID:   req.BuyerID,
			IP:        req.IP,
			Outcome:   AccessOutcome(outcomeOf(err)),
			Reason:    string(errutil.CodeOf(err)),
		})
		return nil, err
	}

	token.Token = secret
	attemptsTotal.WithLabelValues(string(AccessIssue), string(OutcomeGranted)).Inc()
	zap.L().Info("[Download] token issued",
		zap.String("token_id", token.ID),
		zap.String("product_id", token.ProductID),
		zap.Time("expires_at", token.ExpiresAt),
		zap.Int("max_uses", token.MaxUses),
	)

	tokenID := token.ID
	s.audit(ctx, &AccessLog{
		Kind:      AccessIssue,
		TokenID:   &tokenID,
		ProductID: token.ProductID,
		BuyerID:   token.BuyerID,
		IP:        req.IP,
		Outcome:   OutcomeGranted,
		Metadata:  metadata(map[string]any{"max_uses": token.MaxUses, "expires_at": token.ExpiresAt}),
	})
	return token, nil
}

// Download is what a successful consumption hands back to the buyer.
type Download struct {
	TokenID   string    `json:"token_id"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Remaining int       `json:"remaining"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConsumeDownloadToken spends one use of the token and returns a presigned
// URL for the file. Either the use, the URL and the audit row all happen, or
// none of them do.
func (s *Service) ConsumeDownloadToken(ctx context.Context, secret, ip string) (*Download, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errutil.ErrTokenNotFound
	}

	hash := HashToken(secret)
	now := s.now().UTC()
	entry := &AccessLog{ID: s.node.Generate().String(), IP: ip}

	var filename string
	resolve := func(ctx context.Context, token *DownloadToken, product *catalog.Product) (string, error) {
		filename = Filename(product)
		return s.signer.PresignDownload(ctx, product.ObjectKey, filename, s.presignTTL)
	}

	var (
		token   *DownloadToken
		fileURL string
	)
	err := s.caller.Do(ctx, "download.consume", func(ctx context.Context) error {
		var err error
		token, fileURL, err = s.repo.Consume(ctx, hash, now, entry, resolve)
		return err
	})
	if err != nil {
		attemptsTotal.WithLabelValues(string(AccessConsume), outcomeOf(err)).Inc()

		denied := &AccessLog{
			Kind:    AccessConsume,
			IP:      ip,
			Outcome: AccessOutcome(outcomeOf(err)),
			Reason:  string(errutil.CodeOf(err)),
		}
		// token is only safe to read when the call was not abandoned
		if errutil.CodeOf(err) != errutil.StatusIndeterminate && token != nil {
			tokenID := token.ID
			denied.TokenID = &tokenID
			denied.ProductID = token.ProductID
			denied.BuyerID = token.BuyerID
		}

		zap.L().Warn("[Download] consumption rejected",
			zap.Stringp("token_id", denied.TokenID),
			zap.String("reason", denied.Reason),
		)
		s.audit(ctx, denied)
		return nil, err
	}

	attemptsTotal.WithLabelValues(string(AccessConsume), string(OutcomeGranted)).Inc()
	zap.L().Info("[Download] token consumed",
		zap.String("token_id", token.ID),
		zap.Int("use_count", token.UseCount),
		zap.Int("max_uses", token.MaxUses),
	)

	return &Download{
		TokenID:   token.ID,
		URL:       fileURL,
		Filename:  filename,
		Remaining: token.Remaining(),
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// RevokeDownloadToken invalidates a token ahead of its expiry.
func (s *Service) RevokeDownloadToken(ctx context.Context, tokenID, actor string) (*DownloadToken, error) {
	if tokenID == "" {
		return nil, errutil.ValidationFailed("token_id is required", nil)
	}

	now := s.now().UTC()
	var token *DownloadToken
	err := s.caller.Do(ctx, "download.revoke", func(ctx context.Context) error {
		var err error
		token, err = s.repo.Revoke(ctx, tokenID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Download] token revoked", zap.String("token_id", token.ID), zap.String("actor", actor))
	s.audit(ctx, &AccessLog{
		Kind:      AccessRevoke,
		TokenID:   &tokenID,
		ProductID: token.ProductID,
		BuyerID:   token.BuyerID,
		Outcome:   OutcomeGranted,
		Metadata:  metadata(map[string]any{"actor": actor}),
	})
	return token, nil
}

func (s *Service) GetDownloadToken(ctx context.Context, tokenID string) (*DownloadToken, error) {
	var token *DownloadToken
	err := s.caller.Do(ctx, "download.get", func(ctx context.Context) error {
		var err error
		token, err = s.repo.GetToken(ctx, tokenID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (s *Service) ListAccessLogs(ctx context.Context, tokenID string, page pagination.Pagination) ([]*AccessLog, *pagination.PageInfo, error) {
	var (
		logs []*AccessLog
		info *pagination.PageInfo
	)
	err := s.caller.Do(ctx, "download.access_logs", func(ctx context.Context) error {
		var err error
		logs, info, err = s.repo.ListAccessLogs(ctx, tokenID, page)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return logs, info, nil
}

// audit writes an access-log row outside the request transaction. A
// failure here is logged and never fails the request.
func (s *Service) audit(ctx context.Context, entry *AccessLog) {
	if entry.ID == "" {
		entry.ID = s.node.Generate().String()
	}
	err := s.caller.Do(ctx, "download.audit", func(ctx context.Context) error {
		return s.repo.CreateAccessLog(ctx, entry)
	})
	if err != nil {
		zap.L().Error("[Download] failed to write access log",
			zap.String("kind", string(entry.Kind)),
			zap.String("outcome", string(entry.Outcome)),
			zap.Error(err),
		)
	}
}

// Filename is the attachment name presented to the buyer: the product name
// slugged, with the stored object's extension.
func Filename(product *catalog.Product) string {
	ext := path.Ext(product.ObjectKey)
	name := slug.Make(product.Name)
	if name == "" {
		return path.Base(product.ObjectKey)
	}
	return name + ext
}

func outcomeOf(err error) string {
	switch errutil.CodeOf(err) {
	case errutil.StatusIndeterminate, errutil.StatusInternal, errutil.StatusUnknown:
		return string(OutcomeError)
	default:
		return string(OutcomeDenied)
	}
}

func metadata(v map[string]any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
