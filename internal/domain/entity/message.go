package entity

import "time"

// Message belongs to exactly one chat. ReceiverID is always the participant
// that is not the sender. Messages are totally ordered by id; id ascending is
// creation order. The only mutation after insert is IsRead flipping to true.
type Message struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	ChatID     int64     `json:"chat_id" gorm:"not null;index"`
	SenderID   int64     `json:"sender_id" gorm:"not null"`
	ReceiverID int64     `json:"receiver_id" gorm:"not null;index:idx_messages_unread"`
	Content    string    `json:"content" gorm:"not null"`
	IsRead     bool      `json:"is_read" gorm:"not null;default:false;index:idx_messages_unread"`
	CreatedAt  time.Time `json:"created_at"`
}
