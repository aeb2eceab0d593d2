package entity

import "time"

// DeletionSide names the participant role whose soft-delete flag an operation
// targets. A chat has three reachable deletion states: active (both flags
// false), half-deleted (exactly one flag true) and destroyed (row gone once
// both flags are true).
type DeletionSide string

const (
	SideOwner DeletionSide = "owner"
	SideOther DeletionSide = "other"
)

// Chat is a conversation between exactly two users about one product.
// ProductOwnerID is always the product's seller; OtherPersonID the
// counterparty. The (owner, other, product) triple is unique.
type Chat struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	ProductOwnerID int64     `json:"product_owner_id" gorm:"not null;uniqueIndex:idx_chats_triple"`
	OtherPersonID  int64     `json:"other_person_id" gorm:"not null;uniqueIndex:idx_chats_triple"`
	ProductID      int64     `json:"product_id" gorm:"not null;uniqueIndex:idx_chats_triple"`
	OwnerDeleted   bool      `json:"owner_deleted" gorm:"not null;default:false"`
	OtherDeleted   bool      `json:"other_deleted" gorm:"not null;default:false"`
	LastMessageID  *int64    `json:"last_message_id,omitempty"`
	LastMessage    *Message  `json:"last_message,omitempty" gorm:"foreignKey:LastMessageID"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Side reports which deletion side the given user occupies in this chat.
func (c *Chat) Side(userID int64) (DeletionSide, bool) {
	switch userID {
	case c.ProductOwnerID:
		return SideOwner, true
	case c.OtherPersonID:
		return SideOther, true
	}
	return "", false
}

// Counterparty returns the other participant's id.
func (c *Chat) Counterparty(userID int64) int64 {
	if userID == c.ProductOwnerID {
		return c.OtherPersonID
	}
	return c.ProductOwnerID
}

// DeletedBy reports whether the given side has soft-deleted the chat.
func (c *Chat) DeletedBy(side DeletionSide) bool {
	if side == SideOwner {
		return c.OwnerDeleted
	}
	return c.OtherDeleted
}

// VisibleTo reports whether the chat should appear in the user's chat list.
func (c *Chat) VisibleTo(userID int64) bool {
	side, ok := c.Side(userID)
	if !ok {
		return false
	}
	return !c.DeletedBy(side)
}

// BothDeleted reports whether the chat has reached the destroyed state and
// must be removed together with its messages.
func (c *Chat) BothDeleted() bool {
	return c.OwnerDeleted && c.OtherDeleted
}
