package model

import "time"

// Reservation binds an order to decremented stock. It is created together
// with the decrement and destroyed together with the matching increment.
type Reservation struct {
	ID        string
	OrderID   string
	Lines     []ReservationLine
	CreatedAt time.Time
}

type ReservationLine struct {
	ItemID   string
	Quantity int
}
