package models

import "time"

// Item represents a grocery item tracked by a user.
// ExpiryDate is always derived from PurchasedAt and ShelfLife.
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	UserID      int64     `json:"user_id"`
	PurchasedAt time.Time `json:"purchase_date"`
	ShelfLife   int       `json:"shelf_life"`
	ExpiryDate  time.Time `json:"expiry_date"`
	Status      string    `json:"status,omitempty"`
	Notified    bool      `json:"-"`
}

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryEntry records a past purchase. Entries survive item deletion.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	Name        string    `json:"name"`
	PurchasedAt time.Time `json:"purchase_date"`
}

// Recipe is a suggestion returned by the recipe provider.
type Recipe struct {
	ID                    int64  `json:"id"`
	Title                 string `json:"title"`
	Image                 string `json:"image,omitempty"`
	UsedIngredientCount   int    `json:"usedIngredientCount,omitempty"`
	MissedIngredientCount int    `json:"missedIngredientCount,omitempty"`
}

// Views is every projection the dashboard shows, computed from one snapshot.
type Views struct {
	Items        []Item         `json:"items"`
	ExpiringSoon []Item         `json:"expiring_soon"`
	Expired      []Item         `json:"expired"`
	History      []HistoryEntry `json:"history"`
}

// Reminder pairs an item due for notification with its owner's contact details.
type Reminder struct {
	Item        Item
	Username    string
	PhoneNumber string
}
