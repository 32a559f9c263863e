package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category tags what kind of stock an item is.
type Category string

const (
	CategoryMedication      Category = "medication"
	CategoryTriageMaterial  Category = "triage-material"
	CategoryGeneralMaterial Category = "general-material"
)

var validCategories = map[Category]bool{
	CategoryMedication: true, CategoryTriageMaterial: true, CategoryGeneralMaterial: true,
}

func (c Category) Valid() bool { return validCategories[c] }

// Item maps to the inventory_items table.
type Item struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Category  Category        `db:"category" json:"category"`
	Name      string          `db:"name" json:"name"`
	Unit      string          `db:"unit" json:"unit"`
	OnHand    decimal.Decimal `db:"on_hand" json:"on_hand"`
	UnitCost  decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}
