package license

import (
	"context"
	"strings"
	"time"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/errutil"
	"payhuk-core/pkg/gateway"
	"payhuk-core/pkg/sequence"
	"payhuk-core/services/idempotency"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "license_operations_total",
	Help: "License lifecycle operations by operation and result code.",
}, []string{"op", "code"})

func init() {
	prometheus.MustRegister(operationsTotal)
}

type Service struct {
	repo   *Repository
	caller *gateway.Caller
	node   *snowflake.Node
	keys   sequence.Generator
	guard  *idempotency.Guard

	keyPrefix             string
	defaultMaxActivations int

	now func() time.Time
}

type ServiceParams struct {
	fx.In

	Config *config.Config
	Repo   *Repository
	Caller *gateway.Caller
	Node   *snowflake.Node
	Keys   sequence.Generator
	Guard  *idempotency.Guard
}

func NewService(p ServiceParams) *Service {
	prefix := p.Config.License.KeyPrefix
	if prefix == "" {
		prefix = "PHK"
	}
	return &Service{
		repo:                  p.Repo,
		caller:                p.Caller,
		node:                  p.Node,
		keys:                  p.Keys,
		guard:                 p.Guard,
		keyPrefix:             prefix,
		defaultMaxActivations: p.Config.License.MaxActivations,
		now:                   time.Now,
	}
}

// call runs fn through the gateway caller and counts the outcome.
func call[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.caller.Do(ctx, "license."+op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})

	code := "ok"
	if err != nil {
		code = string(errutil.CodeOf(err))
	}
	operationsTotal.WithLabelValues(op, code).Inc()

	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// GenerateLicense creates the license of an order, once. buyerID is
// optional; when set the order must belong to that buyer.
func (s *Service) GenerateLicense(ctx context.Context, orderID, buyerID string) (*License, error) {
	if orderID == "" {
		return nil, errutil.ValidationFailed("order_id is required", nil)
	}

	key, err := s.keys.NextLicenseKey(ctx, s.keyPrefix)
	if err != nil {
		return nil, errutil.Internal("failed to generate license key", err)
	}

	params := CreateParams{
		OrderID:               orderID,
		BuyerID:               buyerID,
		LicenseID:             s.node.Generate().String(),
		LicenseKey:            key,
		Now:                   s.now().UTC(),
		DefaultMaxActivations: s.defaultMaxActivations,
	}

	l, err := call(ctx, s, "generate", func(ctx context.Context) (*License, error) {
		return s.repo.Create(ctx, params)
	})
	if err != nil {
		zap.L().Warn("[License] generate rejected", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	zap.L().Info("[License] generated",
		zap.String("license_id", l.ID),
		zap.String("order_id", l.OrderID),
		zap.String("status", string(l.Status)),
	)
	return l, nil
}

// ConfirmLicense activates the pending license of an order once it is paid.
func (s *Service) ConfirmLicense(ctx context.Context, orderID string) (*License, error) {
	if orderID == "" {
		return nil, errutil.ValidationFailed("order_id is required", nil)
	}
	l, err := call(ctx, s, "confirm", func(ctx context.Context) (*License, error) {
		return s.repo.Confirm(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("[License] confirmed", zap.String("license_id", l.ID))
	return s.present(l), nil
}

// ValidateLicense answers whether deviceID may run the product. It never
// fails for a business reason; those come back as Valid=false with a
// Reason. Only gateway failures are returned as errors.
func (s *Service) ValidateLicense(ctx context.Context, key, deviceID string) (*ValidationResult, error) {
	key = normalizeKey(key)
	if key == "" || deviceID == "" {
		return nil, errutil.ValidationFailed("license_key and device_id are required", nil)
	}

	l, err := call(ctx, s, "validate", func(ctx context.Context) (*License, error) {
		return s.repo.GetByKey(ctx, key)
	})
	if errutil.CodeOf(err) == errutil.StatusLicenseNotFound {
		return &ValidationResult{Valid: false, Reason: string(errutil.StatusLicenseNotFound)}, nil
	}
	if err != nil {
		return nil, err
	}

	return evaluate(l, deviceID, s.now().UTC()), nil
}

func evaluate(l *License, deviceID string, now time.Time) *ValidationResult {
	status := l.EffectiveStatus(now)
	res := &ValidationResult{
		Status:          status,
		ActivationCount: len(l.Activations),
		MaxActivations:  l.MaxActivations,
	}

	switch {
	case status == StatusExpired:
		res.Reason = string(errutil.StatusLicenseExpired)
	case status != StatusActive:
		res.Reason = "license_" + string(status)
	case l.HasDevice(deviceID):
		res.Valid = true
	case len(l.Activations) < l.MaxActivations:
		res.Valid = true
		res.Reason = "device_not_activated"
	default:
		res.Reason = string(errutil.StatusActivationLimitReached)
	}
	return res
}

// ActivateLicense registers deviceID. Activating an already registered
// device returns the license unchanged.
func (s *Service) ActivateLicense(ctx context.Context, key, deviceID, idemKey string) (*License, error) {
	key = normalizeKey(key)
	if key == "" || deviceID == "" {
		return nil, errutil.ValidationFailed("license_key and device_id are required", nil)
	}

	req := map[string]string{"license_key": key, "device_id": deviceID}
	l, err := idempotency.Run(ctx, s.guard, "license.activate", key, idemKey, req, func(ctx context.Context) (*License, error) {
		now := s.now().UTC()
		return call(ctx, s, "activate", func(ctx context.Context) (*License, error) {
			return s.repo.Activate(ctx, key, deviceID, idemKey, now)
		})
	})
	if err != nil {
		zap.L().Warn("[License] activation rejected", zap.String("device_id", deviceID), zap.Error(err))
		return nil, err
	}

	zap.L().Info("[License] device activated",
		zap.String("license_id", l.ID),
		zap.String("device_id", deviceID),
		zap.Int("activations", len(l.Activations)),
		zap.Int("max_activations", l.MaxActivations),
	)
	return s.present(l), nil
}

// DeactivateLicense frees the slot of deviceID.
func (s *Service) DeactivateLicense(ctx context.Context, key, deviceID, idemKey string) (*License, error) {
	key = normalizeKey(key)
	if key == "" || deviceID == "" {
		return nil, errutil.ValidationFailed("license_key and device_id are required", nil)
	}

	req := map[string]string{"license_key": key, "device_id": deviceID}
	l, err := idempotency.Run(ctx, s.guard, "license.deactivate", key, idemKey, req, func(ctx context.Context) (*License, error) {
		return call(ctx, s, "deactivate", func(ctx context.Context) (*License, error) {
			return s.repo.Deactivate(ctx, key, deviceID, idemKey)
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("[License] device deactivated", zap.String("license_id", l.ID), zap.String("device_id", deviceID))
	return s.present(l), nil
}

// TransferLicense hands the license over to toBuyer. The recipient gets a
// new license with its own key; the original key stops working.
func (s *Service) TransferLicense(ctx context.Context, key, fromBuyer, toBuyer, idemKey string) (*License, error) {
	key = normalizeKey(key)
	if key == "" || fromBuyer == "" || toBuyer == "" {
		return nil, errutil.ValidationFailed("license_key, from_buyer_id and to_buyer_id are required", nil)
	}
	if fromBuyer == toBuyer {
		return nil, errutil.ValidationFailed("cannot transfer a license to its current owner", nil)
	}

	req := map[string]string{"license_key": key, "from": fromBuyer, "to": toBuyer}
	l, err := idempotency.Run(ctx, s.guard, "license.transfer", fromBuyer, idemKey, req, func(ctx context.Context) (*License, error) {
		newKey, err := s.keys.NextLicenseKey(ctx, s.keyPrefix)
		if err != nil {
			return nil, errutil.Internal("failed to generate license key", err)
		}
		params := TransferParams{
			LicenseKey:   key,
			FromBuyerID:  fromBuyer,
			ToBuyerID:    toBuyer,
			NewLicenseID: s.node.Generate().String(),
			NewKey:       newKey,
			IdemKey:      idemKey,
			Now:          s.now().UTC(),
		}
		return call(ctx, s, "transfer", func(ctx context.Context) (*License, error) {
			return s.repo.Transfer(ctx, params)
		})
	})
	if err != nil {
		zap.L().Warn("[License] transfer rejected", zap.Error(err))
		return nil, err
	}

	zap.L().Info("[License] transferred",
		zap.Stringp("from_license_id", l.TransferredFrom),
		zap.String("to_license_id", l.ID),
	)
	return s.present(l), nil
}

func (s *Service) SuspendLicense(ctx context.Context, key string) (*License, error) {
	return s.transition(ctx, "suspend", key, []Status{StatusActive}, StatusSuspended, EventSuspended)
}

// ReinstateLicense reactivates a suspended license that has not expired.
func (s *Service) ReinstateLicense(ctx context.Context, key string) (*License, error) {
	return s.transition(ctx, "reinstate", key, []Status{StatusSuspended}, StatusActive, EventReinstated)
}

func (s *Service) ExpireLicense(ctx context.Context, key string) (*License, error) {
	return s.transition(ctx, "expire", key, []Status{StatusActive, StatusSuspended}, StatusExpired, EventExpired)
}

func (s *Service) transition(ctx context.Context, op, key string, from []Status, to Status, event EventType) (*License, error) {
	key = normalizeKey(key)
	if key == "" {
		return nil, errutil.ValidationFailed("license_key is required", nil)
	}
	now := s.now().UTC()
	l, err := call(ctx, s, op, func(ctx context.Context) (*License, error) {
		return s.repo.Transition(ctx, key, from, to, event, now)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("[License] status changed", zap.String("license_id", l.ID), zap.String("status", string(l.Status)))
	return s.present(l), nil
}

// GetLicense returns the license with its effective status.
func (s *Service) GetLicense(ctx context.Context, key string) (*License, error) {
	key = normalizeKey(key)
	l, err := call(ctx, s, "get", func(ctx context.Context) (*License, error) {
		return s.repo.GetByKey(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return s.present(l), nil
}

func (s *Service) ListBuyerLicenses(ctx context.Context, buyerID string) ([]*License, error) {
	if buyerID == "" {
		return nil, errutil.ValidationFailed("buyer_id is required", nil)
	}
	out, err := call(ctx, s, "list", func(ctx context.Context) ([]*License, error) {
		return s.repo.ListByBuyer(ctx, buyerID)
	})
	if err != nil {
		return nil, err
	}
	for _, l := range out {
		s.present(l)
	}
	return out, nil
}

func (s *Service) ListEvents(ctx context.Context, key string) ([]*Event, error) {
	l, err := s.GetLicense(ctx, key)
	if err != nil {
		return nil, err
	}
	return call(ctx, s, "events", func(ctx context.Context) ([]*Event, error) {
		return s.repo.ListEvents(ctx, l.ID)
	})
}

// ExpireOverdue persists lazy expiry in bulk. It is run by the sweep task.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	n, err := call(ctx, s, "sweep", func(ctx context.Context) (int64, error) {
		return s.repo.ExpireOverdue(ctx, now)
	})
	if err != nil {
		return 0, err
	}
	zap.L().Info("[License] expiry sweep finished", zap.Int64("expired", n))
	return n, nil
}

// present applies lazy expiry to what the caller sees.
func (s *Service) present(l *License) *License {
	l.Status = l.EffectiveStatus(s.now().UTC())
	return l
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
