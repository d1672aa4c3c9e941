package catalog

import (
	"context"
	"errors"

	"payhuk-core/pkg/db"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Orders and products belong to the storefront. They are only migrated
// here for local databases.
var Module = fx.Module("catalog.module",
	fx.Provide(NewRepository),
	db.ProvideModels(&Order{}, &Product{}),
)

// Repository reads orders and products from the gateway. Every method takes
// a *gorm.DB so callers can run the lookup inside their own transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// EntitledOrder returns the most recent completed and paid order of buyerID
// for productID, or nil when the buyer holds none.
func (r *Repository) EntitledOrder(ctx context.Context, tx *gorm.DB, buyerID, productID string) (*Order, error) {
	var order Order
	err := r.conn(tx).WithContext(ctx).
		Where("buyer_id = ? AND product_id = ? AND status = ? AND payment_status = ?",
			buyerID, productID, OrderCompleted, PaymentPaid).
		Order("created_at DESC").
		Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) GetOrder(ctx context.Context, tx *gorm.DB, orderID string) (*Order, error) {
	var order Order
	err := r.conn(tx).WithContext(ctx).Where("id = ?", orderID).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) GetProduct(ctx context.Context, tx *gorm.DB, productID string) (*Product, error) {
	var product Product
	err := r.conn(tx).WithContext(ctx).Where("id = ?", productID).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}
