package catalog

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Order is the gateway's order row, narrowed to what entitlement checks
// need. This service never writes it.
type Order struct {
	ID            string        `gorm:"column:id;primaryKey"`
	OrderNumber   string        `gorm:"column:order_number"`
	BuyerID       string        `gorm:"column:buyer_id;index:idx_orders_buyer_product"`
	ProductID     string        `gorm:"column:product_id;index:idx_orders_buyer_product"`
	StoreID       string        `gorm:"column:store_id"`
	Status        OrderStatus   `gorm:"column:status"`
	PaymentStatus PaymentStatus `gorm:"column:payment_status"`
	CreatedAt     time.Time     `gorm:"column:created_at"`
	UpdatedAt     time.Time     `gorm:"column:updated_at"`
}

func (Order) TableName() string { return "orders" }

// Entitles reports whether the order grants access to its digital product.
func (o *Order) Entitles() bool {
	return o.Status == OrderCompleted && o.PaymentStatus == PaymentPaid
}

// AwaitingPayment is an order that may still become entitled.
func (o *Order) AwaitingPayment() bool {
	return o.Status == OrderPending || (o.Status == OrderCompleted && o.PaymentStatus == PaymentPending)
}

type ProductType string

const (
	ProductDigital  ProductType = "digital"
	ProductPhysical ProductType = "physical"
	ProductService  ProductType = "service"
	ProductCourse   ProductType = "course"
)

// Product carries the delivery settings of a catalog item. Zero limits mean
// "use the service defaults".
type Product struct {
	ID                    string      `gorm:"column:id;primaryKey"`
	StoreID               string      `gorm:"column:store_id;index"`
	Name                  string      `gorm:"column:name"`
	Type                  ProductType `gorm:"column:type"`
	ObjectKey             string      `gorm:"column:object_key"`
	DownloadMaxUses       int         `gorm:"column:download_max_uses"`
	DownloadTTLSeconds    int64       `gorm:"column:download_ttl_seconds"`
	LicenseMaxActivations int         `gorm:"column:license_max_activations"`
	LicenseDurationDays   int         `gorm:"column:license_duration_days"`
	CreatedAt             time.Time   `gorm:"column:created_at"`
	UpdatedAt             time.Time   `gorm:"column:updated_at"`
}

func (Product) TableName() string { return "products" }

func (p *Product) DownloadTTL() time.Duration {
	return time.Duration(p.DownloadTTLSeconds) * time.Second
}

func (p *Product) LicenseDuration() time.Duration {
	return time.Duration(p.LicenseDurationDays) * 24 * time.Hour
}
