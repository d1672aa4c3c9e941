package license

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"payhuk-core/pkg/errutil"
	"payhuk-core/services/catalog"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errDeviceRace marks a concurrent activation of the same device. The
// transaction is rolled back and the caller reads the winner's result.
var errDeviceRace = errors.New("device activated concurrently")

type Repository struct {
	db      *gorm.DB
	node    *snowflake.Node
	catalog *catalog.Repository
}

func NewRepository(db *gorm.DB, node *snowflake.Node, catalog *catalog.Repository) *Repository {
	return &Repository{db: db, node: node, catalog: catalog}
}

func (r *Repository) loadByKey(tx *gorm.DB, key string) (*License, error) {
	var l License
	err := tx.Preload("Activations", func(db *gorm.DB) *gorm.DB {
		return db.Order("activated_at ASC")
	}).Where("license_key = ?", key).Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) loadByID(tx *gorm.DB, id string) (*License, error) {
	var l License
	err := tx.Preload("Activations", func(db *gorm.DB) *gorm.DB {
		return db.Order("activated_at ASC")
	}).Where("id = ?", id).Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) GetByKey(ctx context.Context, key string) (*License, error) {
	return r.loadByKey(r.db.WithContext(ctx), key)
}

func (r *Repository) GetByID(ctx context.Context, id string) (*License, error) {
	return r.loadByID(r.db.WithContext(ctx), id)
}

func (r *Repository) ListByBuyer(ctx context.Context, buyerID string) ([]*License, error) {
	var out []*License
	err := r.db.WithContext(ctx).
		Preload("Activations").
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *Repository) ListEvents(ctx context.Context, licenseID string) ([]*Event, error) {
	var out []*Event
	err := r.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *Repository) appendEvent(tx *gorm.DB, licenseID string, typ EventType, deviceID, idemKey string, payload map[string]any) error {
	e := &Event{
		ID:        r.node.Generate().String(),
		LicenseID: licenseID,
		Type:      typ,
		DeviceID:  deviceID,
	}
	if idemKey != "" {
		e.IdempotencyKey = &idemKey
	}
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		e.Payload = datatypes.JSON(b)
	}
	return tx.Create(e).Error
}

// priorEvent finds the event a previous attempt with the same key wrote.
func (r *Repository) priorEvent(tx *gorm.DB, licenseID string, typ EventType, idemKey string) (*Event, error) {
	if idemKey == "" {
		return nil, nil
	}
	var e Event
	err := tx.Where("license_id = ? AND type = ? AND idempotency_key = ?", licenseID, typ, idemKey).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type CreateParams struct {
	OrderID               string
	BuyerID               string
	LicenseID             string
	LicenseKey            string
	Now                   time.Time
	DefaultMaxActivations int
}

// Create generates the license of an order. Paid orders get an active
// license, orders still awaiting payment a pending one.
func (r *Repository) Create(ctx context.Context, p CreateParams) (*License, error) {
	var created *License
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := r.catalog.GetOrder(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}
		if order == nil || (p.BuyerID != "" && order.BuyerID != p.BuyerID) {
			return errutil.ErrNotEntitled
		}

		var status Status
		switch {
		case order.Entitles():
			status = StatusActive
		case order.AwaitingPayment():
			status = StatusPending
		default:
			return errutil.ErrNotEntitled
		}

		product, err := r.catalog.GetProduct(ctx, tx, order.ProductID)
		if err != nil {
			return err
		}

		maxActivations := p.DefaultMaxActivations
		var expiresAt *time.Time
		if product != nil {
			if product.LicenseMaxActivations > 0 {
				maxActivations = product.LicenseMaxActivations
			}
			if d := product.LicenseDuration(); d > 0 {
				at := p.Now.Add(d)
				expiresAt = &at
			}
		}

		created = &License{
			ID:             p.LicenseID,
			OrderID:        order.ID,
			Generation:     0,
			ProductID:      order.ProductID,
			BuyerID:        order.BuyerID,
			LicenseKey:     p.LicenseKey,
			Status:         status,
			MaxActivations: maxActivations,
			ExpiresAt:      expiresAt,
			Activations:    []Activation{},
		}
		if err := tx.Create(created).Error; err != nil {
			return err
		}
		return r.appendEvent(tx, created.ID, EventGenerated, "", "", map[string]any{"status": status})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errutil.Wrap(errutil.ErrDuplicateLicense, err)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Confirm promotes the pending license of a now-paid order.
func (r *Repository) Confirm(ctx context.Context, orderID string) (*License, error) {
	var out *License
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := r.catalog.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil || !order.Entitles() {
			return errutil.ErrNotEntitled
		}

		res := tx.Model(&License{}).
			Where("order_id = ? AND generation = 0 AND status = ?", orderID, StatusPending).
			Update("status", StatusActive)
		if res.Error != nil {
			return res.Error
		}

		var l License
		if err := tx.Where("order_id = ? AND generation = 0", orderID).Take(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.ErrLicenseNotFound
			}
			return err
		}

		if res.RowsAffected == 0 {
			if l.Status == StatusActive {
				out, err = r.loadByID(tx, l.ID)
				return err
			}
			return invalidTransition(l.Status, StatusActive)
		}

		if err := r.appendEvent(tx, l.ID, EventConfirmed, "", "", nil); err != nil {
			return err
		}
		out, err = r.loadByID(tx, l.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Activate registers deviceID on the license. The slot is taken with a
// single conditional increment so two concurrent activations can never
// push the count past max_activations.
func (r *Repository) Activate(ctx context.Context, key, deviceID, idemKey string, now time.Time) (*License, error) {
	var out *License
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := r.loadByKey(tx, key)
		if err != nil {
			return err
		}

		switch status := l.EffectiveStatus(now); {
		case status == StatusExpired:
			return errutil.ErrLicenseExpired
		case status != StatusActive:
			return invalidTransition(l.Status, StatusActive)
		}

		if l.HasDevice(deviceID) {
			out = l
			return nil
		}

		res := tx.Model(&License{}).
			Where("id = ? AND status = ? AND activation_count < max_activations AND (expires_at IS NULL OR expires_at >= ?)",
				l.ID, StatusActive, now).
			Update("activation_count", gorm.Expr("activation_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			switch {
			case l.TimeExpired(now):
				return errutil.ErrLicenseExpired
			case l.Status != StatusActive:
				return invalidTransition(l.Status, StatusActive)
			default:
				return errutil.ErrActivationLimitReached
			}
		}

		activation := &Activation{
			ID:          r.node.Generate().String(),
			LicenseID:   l.ID,
			DeviceID:    deviceID,
			ActivatedAt: now,
		}
		if err := tx.Create(activation).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDeviceRace
			}
			return err
		}

		if err := r.appendEvent(tx, l.ID, EventActivated, deviceID, idemKey, nil); err != nil {
			return err
		}

		out, err = r.loadByID(tx, l.ID)
		return err
	})
	if errors.Is(err, errDeviceRace) {
		return r.GetByKey(ctx, key)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errutil.Wrap(errutil.ErrIdempotencyConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Deactivate frees the slot held by deviceID.
func (r *Repository) Deactivate(ctx context.Context, key, deviceID, idemKey string) (*License, error) {
	var out *License
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := r.loadByKey(tx, key)
		if err != nil {
			return err
		}

		prior, err := r.priorEvent(tx, l.ID, EventDeactivated, idemKey)
		if err != nil {
			return err
		}
		if prior != nil {
			out = l
			return nil
		}

		res := tx.Where("license_id = ? AND device_id = ?", l.ID, deviceID).Delete(&Activation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.ErrDeviceNotFound
		}

		if err := tx.Model(&License{}).
			Where("id = ? AND activation_count > 0", l.ID).
			Update("activation_count", gorm.Expr("activation_count - 1")).Error; err != nil {
			return err
		}

		if err := r.appendEvent(tx, l.ID, EventDeactivated, deviceID, idemKey, nil); err != nil {
			return err
		}

		out, err = r.loadByID(tx, l.ID)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errutil.Wrap(errutil.ErrIdempotencyConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type TransferParams struct {
	LicenseKey   string
	FromBuyerID  string
	ToBuyerID    string
	NewLicenseID string
	NewKey       string
	IdemKey      string
	Now          time.Time
}

// Transfer retires the license under the current owner and issues a fresh
// one to the recipient: new id, new key, no activations, same product,
// expiry and activation limit. The retired row keeps its owner and points
// at its successor through transferred_to.
func (r *Repository) Transfer(ctx context.Context, p TransferParams) (*License, error) {
	var out *License
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := r.loadByKey(tx, p.LicenseKey)
		if err != nil {
			return err
		}

		if old.BuyerID != p.FromBuyerID {
			return errutil.Forbidden("license is not owned by this buyer", nil)
		}

		prior, err := r.priorEvent(tx, old.ID, EventTransferred, p.IdemKey)
		if err != nil {
			return err
		}
		if prior != nil && old.TransferredTo != nil {
			out, err = r.loadByID(tx, *old.TransferredTo)
			return err
		}

		res := tx.Model(&License{}).
			Where("id = ? AND status = ? AND buyer_id = ? AND (expires_at IS NULL OR expires_at >= ?)",
				old.ID, StatusActive, p.FromBuyerID, p.Now).
			Updates(map[string]any{
				"status":           StatusTransferred,
				"activation_count": 0,
				"transferred_to":   p.NewLicenseID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if old.TimeExpired(p.Now) {
				return errutil.ErrLicenseExpired
			}
			return invalidTransition(old.Status, StatusTransferred)
		}

		if err := tx.Where("license_id = ?", old.ID).Delete(&Activation{}).Error; err != nil {
			return err
		}

		from := old.ID
		successor := &License{
			ID:              p.NewLicenseID,
			OrderID:         old.OrderID,
			Generation:      old.Generation + 1,
			ProductID:       old.ProductID,
			BuyerID:         p.ToBuyerID,
			LicenseKey:      p.NewKey,
			Status:          StatusActive,
			MaxActivations:  old.MaxActivations,
			ActivationCount: 0,
			ExpiresAt:       old.ExpiresAt,
			TransferredFrom: &from,
		}
		if err := tx.Create(successor).Error; err != nil {
			return err
		}

		if err := r.appendEvent(tx, old.ID, EventTransferred, "", p.IdemKey, map[string]any{
			"to_license_id": successor.ID,
			"to_buyer_id":   p.ToBuyerID,
		}); err != nil {
			return err
		}
		if err := r.appendEvent(tx, successor.ID, EventReceived, "", "", map[string]any{
			"from_license_id": old.ID,
			"from_buyer_id":   p.FromBuyerID,
		}); err != nil {
			return err
		}

		out, err = r.loadByID(tx, successor.ID)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errutil.Conflict("license transfer collided with a concurrent request, retry", err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transition moves the license identified by key from one of the `from`
// statuses to `to`. Reaching a status the license already has is a no-op.
func (r *Repository) Transition(ctx context.Context, key string, from []Status, to Status, event EventType, now time.Time) (*License, error) {
	var out *License
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := r.loadByKey(tx, key)
		if err != nil {
			return err
		}
		if l.Status == to {
			out = l
			return nil
		}
		if !CanTransition(l.Status, to) {
			return invalidTransition(l.Status, to)
		}

		query := tx.Model(&License{}).Where("id = ? AND status IN ?", l.ID, from)
		if to == StatusActive {
			query = query.Where("expires_at IS NULL OR expires_at >= ?", now)
		}
		res := query.Update("status", to)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			if to == StatusActive && l.TimeExpired(now) {
				return errutil.ErrLicenseExpired
			}
			return invalidTransition(l.Status, to)
		}

		if err := r.appendEvent(tx, l.ID, event, "", "", map[string]any{"from": l.Status}); err != nil {
			return err
		}
		out, err = r.loadByID(tx, l.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireOverdue persists the expiry of every active or suspended license
// past its expires_at and returns how many rows changed.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&License{}).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?",
			[]Status{StatusActive, StatusSuspended}, now).
		Update("status", StatusExpired)
	return res.RowsAffected, res.Error
}

func invalidTransition(from, to Status) error {
	return errutil.Wrap(errutil.ErrInvalidTransition, nil, errutil.WithDetails(errutil.Detail{
		Field:   "status",
		Message: string(from) + " -> " + string(to) + " is not allowed",
	}))
}
