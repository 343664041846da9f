package model

import "time"

type Order struct {
	ID          string
	UserID      string
	TotalAmount float64
	Items       []OrderItem
	Status      OrderStatus
	CreatedAt   time.Time
}

type OrderItem struct {
	ItemID   string
	Quantity int
	Price    float64
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusCompleted OrderStatus = "completed"
)

// Terminal reports whether no further transition is permitted from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}
