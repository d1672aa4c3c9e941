package license

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusSuspended   Status = "suspended"
	StatusExpired     Status = "expired"
	StatusTransferred Status = "transferred"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusActive},
	StatusActive:    {StatusSuspended, StatusExpired, StatusTransferred},
	StatusSuspended: {StatusActive, StatusExpired},
}

// CanTransition reports whether the lifecycle allows moving from -> to.
// expired and transferred are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// License grants a buyer the right to run a product on up to
// MaxActivations devices. OrderID and Generation are unique together: the
// license generated for an order is generation 0 and every transfer adds
// one.
type License struct {
	ID              string       `gorm:"column:id;primaryKey" json:"id"`
	OrderID         string       `gorm:"column:order_id;not null;uniqueIndex:idx_licenses_order_generation" json:"order_id"`
	Generation      int          `gorm:"column:generation;not null;default:0;uniqueIndex:idx_licenses_order_generation" json:"generation"`
	ProductID       string       `gorm:"column:product_id;not null;index" json:"product_id"`
	BuyerID         string       `gorm:"column:buyer_id;not null;index" json:"buyer_id"`
	LicenseKey      string       `gorm:"column:license_key;not null;uniqueIndex" json:"license_key"`
	Status          Status       `gorm:"column:status;not null;index" json:"status"`
	MaxActivations  int          `gorm:"column:max_activations;not null" json:"max_activations"`
	ActivationCount int          `gorm:"column:activation_count;not null;default:0" json:"activation_count"`
	ExpiresAt       *time.Time   `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	TransferredFrom *string      `gorm:"column:transferred_from" json:"transferred_from,omitempty"`
	TransferredTo   *string      `gorm:"column:transferred_to" json:"transferred_to,omitempty"`
	CreatedAt       time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	Activations     []Activation `gorm:"foreignKey:LicenseID" json:"activations"`
}

func (License) TableName() string { return "licenses" }

// TimeExpired reports whether the license is past its expiry at now.
func (l *License) TimeExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// EffectiveStatus is the status a reader should see at now. Active and
// suspended licenses past their expiry read as expired before the sweep
// has persisted it.
func (l *License) EffectiveStatus(now time.Time) Status {
	if (l.Status == StatusActive || l.Status == StatusSuspended) && l.TimeExpired(now) {
		return StatusExpired
	}
	return l.Status
}

func (l *License) HasDevice(deviceID string) bool {
	for _, a := range l.Activations {
		if a.DeviceID == deviceID {
			return true
		}
	}
	return false
}

type Activation struct {
	ID          string    `gorm:"column:id;primaryKey" json:"-"`
	LicenseID   string    `gorm:"column:license_id;not null;uniqueIndex:idx_license_activations_device" json:"-"`
	DeviceID    string    `gorm:"column:device_id;not null;uniqueIndex:idx_license_activations_device" json:"device_id"`
	ActivatedAt time.Time `gorm:"column:activated_at;not null" json:"activated_at"`
}

func (Activation) TableName() string { return "license_activations" }

type EventType string

const (
	EventGenerated   EventType = "generated"
	EventConfirmed   EventType = "confirmed"
	EventActivated   EventType = "activated"
	EventDeactivated EventType = "deactivated"
	EventTransferred EventType = "transferred"
	EventReceived    EventType = "received"
	EventSuspended   EventType = "suspended"
	EventReinstated  EventType = "reinstated"
	EventExpired     EventType = "expired"
)

// Event is the append-only history of a license. IdempotencyKey is unique
// per license and event type so a retried mutation can find its own result.
type Event struct {
	ID             string         `gorm:"column:id;primaryKey" json:"id"`
	LicenseID      string         `gorm:"column:license_id;not null;index;uniqueIndex:idx_license_events_idem" json:"license_id"`
	Type           EventType      `gorm:"column:type;not null;uniqueIndex:idx_license_events_idem" json:"type"`
	IdempotencyKey *string        `gorm:"column:idempotency_key;uniqueIndex:idx_license_events_idem" json:"-"`
	DeviceID       string         `gorm:"column:device_id" json:"device_id,omitempty"`
	Payload        datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Event) TableName() string { return "license_events" }

// ValidationResult answers whether a device may run the licensed product.
type ValidationResult struct {
	Valid           bool   `json:"valid"`
	Reason          string `json:"reason,omitempty"`
	Status          Status `json:"status,omitempty"`
	ActivationCount int    `json:"activation_count"`
	MaxActivations  int    `json:"max_activations"`
}
