package store

import "time"

// Category groups products in the storefront.
type Category struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	Icon *string `json:"icon,omitempty"`
}

// Product is a single catalog entry. CategoryID is nil for detached products.
// ImagePath and ThumbPath are relative to the media root and empty when no
// image was supplied.
type Product struct {
	ID          int64   `json:"id"`
	CategoryID  *int64  `json:"category_id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	ImagePath   string  `json:"image_path,omitempty"`
	ThumbPath   string  `json:"thumb_path,omitempty"`
}

// CartLine is one resolved cart position with the current product snapshot.
type CartLine struct {
	Product  Product `json:"product"`
	Qty      int64   `json:"qty"`
	Subtotal float64 `json:"subtotal"`
}

// Cart is the read-time view of a user's cart. Total reflects current prices.
type Cart struct {
	Lines []CartLine `json:"lines"`
	Total float64    `json:"total"`
}

// OrderItem is a price snapshot captured in a checkout log entry. It is
// immune to later catalog edits.
type OrderItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Qty       int64   `json:"qty"`
	Subtotal  float64 `json:"subtotal"`
}

// Ban blocks a user identity from shop-facing operations.
type Ban struct {
	UserID    int64     `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is an immutable audit record of a single mutating action.
type LogEntry struct {
	Timestamp time.Time      `json:"ts"`
	Kind      string         `json:"kind"`
	UserID    *int64         `json:"user_id"`
	Payload   map[string]any `json:"payload"`
}

// clone returns a copy whose Icon pointer is detached from store state.
func (c Category) clone() Category {
	c.Icon = clonePtr(c.Icon)
	return c
}

// clone returns a copy whose CategoryID pointer is detached from store state.
func (p Product) clone() Product {
	p.CategoryID = clonePtr(p.CategoryID)
	return p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Log kinds recorded by the store.
const (
	KindCrudCreate    = "crud_create"
	KindCrudUpdate    = "crud_update"
	KindCrudDelete    = "crud_delete"
	KindCartAdd       = "cart_add"
	KindCartClear     = "cart_clear"
	KindCheckout      = "checkout"
	KindBanSet        = "ban_set"
	KindBanUnset      = "ban_unset"
	KindArchiveImport = "archive_import"
)
