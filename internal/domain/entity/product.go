package entity

import "time"

// Product is the listing a chat is scoped to. Listing CRUD lives outside this
// service; SellerID decides which chat participant is the product owner.
type Product struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	SellerID  int64     `json:"seller_id" gorm:"not null;index"`
	Title     string    `json:"title" gorm:"not null"`
	Price     float64   `json:"price"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
