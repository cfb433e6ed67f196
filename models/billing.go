package models

import (
	"time"

	"github.com/google/uuid"
)

type BillCategory string

const (
	CategoryAirtime     BillCategory = "AIRTIME"
	CategoryData        BillCategory = "DATA"
	CategoryTV          BillCategory = "TV"
	CategoryElectricity BillCategory = "ELECTRICITY"
	CategoryGaming      BillCategory = "GAMING"
)

// Categories is every category the service knows how to route.
var Categories = []BillCategory{CategoryAirtime, CategoryData, CategoryTV, CategoryElectricity, CategoryGaming}

func (c BillCategory) IsKnown() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsDynamic reports whether offers in c are priced bundles whose price is part of
// their identity (data plans, TV bouquets).
func (c BillCategory) IsDynamic() bool {
	return c == CategoryData || c == CategoryTV
}

type ProviderName string

const (
	ProviderVTPass      ProviderName = "VTPASS"
	ProviderInterswitch ProviderName = "INTERSWITCH"
)

// AmountType values as reported by providers.
const (
	AmountTypeUserDefined = 0
	AmountTypeFixed       = 1
)

type BillingProvider struct {
	ID        uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      ProviderName `gorm:"type:varchar(20);uniqueIndex;not null" json:"name"`
	IsActive  bool         `gorm:"not null;default:true" json:"isActive"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"-"`
}

type BillingCategory struct {
	ID      uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name    BillCategory `gorm:"type:varchar(20);uniqueIndex;not null" json:"name"`
	Dynamic bool         `gorm:"not null;default:false" json:"dynamic"`
}

// Biller is a merchant behind one or more billing items. Code is the
// provider-native biller id and is unique across all providers.
type Biller struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

type BillingItem struct {
	ID           uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InternalCode string       `gorm:"type:varchar(128);not null;uniqueIndex:idx_item_code_provider" json:"internalCode"`
	ProviderID   uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_item_code_provider" json:"providerId"`
	Category     BillCategory `gorm:"type:varchar(20);index;not null" json:"category"`
	BillerID     uuid.UUID    `gorm:"type:uuid;not null" json:"billerId"`
	Name         string       `gorm:"type:varchar(255);not null" json:"name"`
	Amount       int64        `gorm:"not null;default:0" json:"amount"` // in kobo, 0 when user supplied
	AmountType   int          `gorm:"not null;default:0" json:"amountType"`
	PaymentCode  string       `gorm:"type:varchar(128)" json:"paymentCode"`
	Plan         string       `gorm:"type:varchar(16)" json:"plan,omitempty"`
	Image        string       `gorm:"type:varchar(1024)" json:"image,omitempty"`
	Active       bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"-"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"-"`

	Provider BillingProvider `gorm:"foreignKey:ProviderID" json:"provider"`
	Biller   Biller          `gorm:"foreignKey:BillerID" json:"biller"`
}

// SameOffer reports whether other carries the same catalog data as i, ignoring
// identity and bookkeeping columns.
func (i BillingItem) SameOffer(other BillingItem) bool {
	return i.InternalCode == other.InternalCode &&
		i.ProviderID == other.ProviderID &&
		i.Category == other.Category &&
		i.BillerID == other.BillerID &&
		i.Name == other.Name &&
		i.Amount == other.Amount &&
		i.AmountType == other.AmountType &&
		i.PaymentCode == other.PaymentCode &&
		i.Plan == other.Plan &&
		i.Image == other.Image &&
		i.Active == other.Active
}

// ValidateCustomerRequest is the body of POST /bills/validate-customer.
type ValidateCustomerRequest struct {
	Provider    ProviderName `json:"provider" binding:"required"`
	CustomerID  string       `json:"customerId" binding:"required"`
	PaymentCode string       `json:"paymentCode" binding:"required"`
	Type        string       `json:"type,omitempty"`
}

type Customer struct {
	CustomerID string `json:"customerId"`
	Name       string `json:"name"`
	Amount     int64  `json:"amount"`
}
