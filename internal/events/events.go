// Package events defines the message payloads exchanged over the bus.
// Field names are part of the wire contract.
package events

import "time"

type OrderItem struct {
	ItemID   string  `json:"itemId"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type OrderCreated struct {
	OrderID     string      `json:"orderId"`
	UserID      string      `json:"userId"`
	TotalAmount float64     `json:"totalAmount"`
	Items       []OrderItem `json:"items"`
}

type PaymentFailed struct {
	PaymentID     string `json:"paymentId"`
	OrderID       string `json:"orderId"`
	FailureReason string `json:"failureReason"`
}

type ShipmentDelivered struct {
	OrderID      string `json:"orderId"`
	ShipmentID   string `json:"shipmentId"`
	DeliveryTime string `json:"deliveryTime"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type OrderCompleted struct {
	OrderID        string    `json:"orderId"`
	CompletionTime time.Time `json:"completionTime"`
}

type ReservationLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type InventoryReserved struct {
	ReservationID string            `json:"reservationId"`
	OrderID       string            `json:"orderId"`
	Items         []ReservationLine `json:"items"`
}

type InventoryReleased struct {
	ReservationID string            `json:"reservationId"`
	OrderID       string            `json:"orderId"`
	Items         []ReservationLine `json:"items"`
}

type InventoryUpdated struct {
	ItemID      string `json:"itemId"`
	NewQuantity int    `json:"newQuantity"`
}
