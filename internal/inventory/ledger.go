// Package inventory owns per-item stock counts and the active reservations
// against them. The ledger is the single serialization point for all
// reservation traffic: every mutation runs inside one ledger-wide critical
// section so two concurrent reservations against the same item can never
// both pass the availability check.
package inventory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fulfillmentservice/internal/model"
)

// ErrNoReservation is returned by Release when the order holds no active
// reservation.
var ErrNoReservation = errors.New("no active reservation for order")

// InsufficientStockError reports the first line that failed the availability
// check. No stock is decremented when it is returned.
type InsufficientStockError struct {
	ItemID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d",
		e.ItemID, e.Requested, e.Available)
}

// Ledger tracks available quantity per item and active reservations, with an
// orderID index for reservation lookup. State lives for the process lifetime.
type Ledger struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]*model.Reservation
	byOrder      map[string]string // orderID -> reservationID
}

// NewLedger seeds the ledger from the catalog. The seed map is copied.
func NewLedger(seed map[string]int) *Ledger {
	stock := make(map[string]int, len(seed))
	for itemID, qty := range seed {
		stock[itemID] = qty
	}
	return &Ledger{
		stock:        stock,
		reservations: make(map[string]*model.Reservation),
		byOrder:      make(map[string]string),
	}
}

// CheckAndReserve atomically reserves every requested line for the order.
// Either all lines are decremented and a reservation is recorded, or no
// stock changes and an InsufficientStockError is returned. A repeated call
// while the order already holds an active reservation returns that
// reservation unchanged, so duplicate deliveries cannot double-reserve.
func (l *Ledger) CheckAndReserve(orderID string, lines []model.ReservationLine) (model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if resID, ok := l.byOrder[orderID]; ok {
		return copyReservation(l.reservations[resID]), nil
	}

	// Check every line before touching any stock.
	for _, line := range lines {
		available := l.stock[line.ItemID]
		if available < line.Quantity {
			return model.Reservation{}, &InsufficientStockError{
				ItemID:    line.ItemID,
				Requested: line.Quantity,
				Available: available,
			}
		}
	}

	reservation := &model.Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Lines:     make([]model.ReservationLine, len(lines)),
		CreatedAt: time.Now(),
	}
	copy(reservation.Lines, lines)

	for _, line := range lines {
		l.stock[line.ItemID] -= line.Quantity
	}
	l.reservations[reservation.ID] = reservation
	l.byOrder[orderID] = reservation.ID

	return copyReservation(reservation), nil
}

// Release returns the order's reserved quantities to stock and removes the
// reservation record. It returns ErrNoReservation, mutating nothing, when
// the order holds no active reservation.
func (l *Ledger) Release(orderID string) (model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resID, ok := l.byOrder[orderID]
	if !ok {
		return model.Reservation{}, ErrNoReservation
	}
	reservation := l.reservations[resID]

	for _, line := range reservation.Lines {
		l.stock[line.ItemID] += line.Quantity
	}
	delete(l.reservations, resID)
	delete(l.byOrder, orderID)

	return copyReservation(reservation), nil
}

// StockOf returns the currently available quantity for the item. Unknown
// items report zero.
func (l *Ledger) StockOf(itemID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[itemID]
}

// ActiveReservations returns a snapshot of all active reservations.
func (l *Ledger) ActiveReservations() []model.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Reservation, 0, len(l.reservations))
	for _, reservation := range l.reservations {
		out = append(out, copyReservation(reservation))
	}
	return out
}

func copyReservation(r *model.Reservation) model.Reservation {
	cp := *r
	cp.Lines = make([]model.ReservationLine, len(r.Lines))
	copy(cp.Lines, r.Lines)
	return cp
}
