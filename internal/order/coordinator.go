// Package order drives each order through its lifecycle from events the
// service does not control the timing, ordering, or duplication of. All
// transitions for one order are applied under one lock, so whichever of two
// racing terminal events commits first wins and the other becomes a no-op.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fulfillmentservice/internal/config"
	"fulfillmentservice/internal/events"
	"fulfillmentservice/internal/inventory"
	"fulfillmentservice/internal/model"
	"fulfillmentservice/internal/platform/observability"
)

// ErrUnknownOrder is reported by operator-facing calls that reference an
// order that was never created.
var ErrUnknownOrder = errors.New("unknown order")

// ErrAlreadyTerminal is reported by operator-facing calls when the order has
// already reached a terminal state.
var ErrAlreadyTerminal = errors.New("order already in terminal state")

// EventPublisher sends a domain event to the bus. Publish failures after a
// committed state mutation are a known consistency boundary: the mutation is
// not rolled back.
type EventPublisher interface {
	Publish(ctx context.Context, subject, key string, event any) error
}

// Coordinator owns the order table and drives the inventory ledger's
// reserve/release calls from the same creation and cancellation events it
// tracks. Orders are retained for the process lifetime.
type Coordinator struct {
	mu        sync.RWMutex
	orders    map[string]*model.Order
	ledger    *inventory.Ledger
	publisher EventPublisher
	logger    observability.Logger
}

func NewCoordinator(ledger *inventory.Ledger, publisher EventPublisher, logger observability.Logger) *Coordinator {
	return &Coordinator{
		orders:    make(map[string]*model.Order),
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
	}
}

// ProcessOrderCreated creates the order in Pending on the first creation
// event for its id and attempts the matching reservation. A repeated
// creation event for a known id is a no-op. An order whose reservation fails
// on stock stays Pending with no reservation; no retry is scheduled and no
// event is emitted for it.
func (c *Coordinator) ProcessOrderCreated(ctx context.Context, ev events.OrderCreated) {
	c.mu.Lock()
	if _, exists := c.orders[ev.OrderID]; exists {
		c.mu.Unlock()
		c.logger.Info("duplicate order creation ignored", zap.String("order_id", ev.OrderID))
		return
	}

	order := &model.Order{
		ID:          ev.OrderID,
		UserID:      ev.UserID,
		TotalAmount: ev.TotalAmount,
		Items:       make([]model.OrderItem, len(ev.Items)),
		Status:      model.OrderStatusPending,
		CreatedAt:   time.Now(),
	}
	for i, item := range ev.Items {
		order.Items[i] = model.OrderItem{ItemID: item.ItemID, Quantity: item.Quantity, Price: item.Price}
	}
	c.orders[ev.OrderID] = order

	var reservation model.Reservation
	var reserveErr error
	var levels []events.InventoryUpdated
	if len(ev.Items) > 0 {
		lines := make([]model.ReservationLine, len(ev.Items))
		for i, item := range ev.Items {
			lines[i] = model.ReservationLine{ItemID: item.ItemID, Quantity: item.Quantity}
		}
		reservation, reserveErr = c.ledger.CheckAndReserve(ev.OrderID, lines)
		if reserveErr == nil {
			levels = c.stockLevels(reservation.Lines)
		}
	}
	c.mu.Unlock()

	c.logger.Info("order created", zap.String("order_id", ev.OrderID), zap.String("user_id", ev.UserID))

	if reserveErr != nil {
		var insufficient *inventory.InsufficientStockError
		if errors.As(reserveErr, &insufficient) {
			c.logger.Warn("reservation failed, order stays pending",
				zap.String("order_id", ev.OrderID),
				zap.String("item_id", insufficient.ItemID),
				zap.Int("requested", insufficient.Requested),
				zap.Int("available", insufficient.Available),
			)
			return
		}
		c.logger.Error("reservation failed", zap.String("order_id", ev.OrderID), zap.Error(reserveErr))
		return
	}
	if len(ev.Items) == 0 {
		return
	}

	c.publish(ctx, config.InventoryReservedTopic, ev.OrderID, events.InventoryReserved{
		ReservationID: reservation.ID,
		OrderID:       reservation.OrderID,
		Items:         toEventLines(reservation.Lines),
	})
	c.publishStockLevels(ctx, levels)
}

// ProcessPaymentFailed cancels a pending order and frees its reservation.
// Unknown or already-terminal orders are ignored.
func (c *Coordinator) ProcessPaymentFailed(ctx context.Context, ev events.PaymentFailed) {
	reason := fmt.Sprintf("Payment failed: %s", ev.FailureReason)
	if err := c.cancel(ctx, ev.OrderID, reason); err != nil {
		c.logger.Info("payment failure ignored",
			zap.String("order_id", ev.OrderID),
			zap.String("payment_id", ev.PaymentID),
			zap.Error(err),
		)
	}
}

// ProcessShipmentDelivered completes a pending order. The published
// completion time is the time of processing, not the shipment's
// deliveryTime. Unknown or already-terminal orders are ignored.
func (c *Coordinator) ProcessShipmentDelivered(ctx context.Context, ev events.ShipmentDelivered) {
	c.mu.Lock()
	order, exists := c.orders[ev.OrderID]
	if !exists {
		c.mu.Unlock()
		c.logger.Info("shipment for unknown order ignored", zap.String("order_id", ev.OrderID))
		return
	}
	if order.Status.Terminal() {
		status := order.Status
		c.mu.Unlock()
		c.logger.Info("shipment for terminal order ignored",
			zap.String("order_id", ev.OrderID),
			zap.String("status", string(status)),
		)
		return
	}
	order.Status = model.OrderStatusCompleted
	completedAt := time.Now()
	c.mu.Unlock()

	c.logger.Info("order completed", zap.String("order_id", ev.OrderID), zap.String("shipment_id", ev.ShipmentID))
	c.publish(ctx, config.OrderCompletedTopic, ev.OrderID, events.OrderCompleted{
		OrderID:        ev.OrderID,
		CompletionTime: completedAt,
	})
}

// CancelOrder is the operator-facing cancellation. Unlike the event
// handlers it reports ErrUnknownOrder and ErrAlreadyTerminal to the caller.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, reason string) error {
	return c.cancel(ctx, orderID, reason)
}

// cancel transitions the order to Cancelled, releases its reservation if one
// is active, and publishes the cancellation. The lock is taken before any
// ledger call, always in that order, so a cancellation can never interleave
// with the same order's creation or completion.
func (c *Coordinator) cancel(ctx context.Context, orderID, reason string) error {
	c.mu.Lock()
	order, exists := c.orders[orderID]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if order.Status.Terminal() {
		status := order.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, orderID, status)
	}
	order.Status = model.OrderStatusCancelled
	released, releaseErr := c.ledger.Release(orderID)
	var levels []events.InventoryUpdated
	if releaseErr == nil {
		levels = c.stockLevels(released.Lines)
	}
	c.mu.Unlock()

	c.logger.Info("order cancelled", zap.String("order_id", orderID), zap.String("reason", reason))
	c.publish(ctx, config.OrderCancelledTopic, orderID, events.OrderCancelled{
		OrderID: orderID,
		Reason:  reason,
	})

	if releaseErr != nil {
		// A pending order without a reservation is legal, e.g. after an
		// insufficient-stock creation.
		if !errors.Is(releaseErr, inventory.ErrNoReservation) {
			c.logger.Error("release failed", zap.String("order_id", orderID), zap.Error(releaseErr))
		}
		return nil
	}

	c.publish(ctx, config.InventoryReleasedTopic, orderID, events.InventoryReleased{
		ReservationID: released.ID,
		OrderID:       released.OrderID,
		Items:         toEventLines(released.Lines),
	})
	c.publishStockLevels(ctx, levels)
	return nil
}

// GetOrder returns a point-in-time copy of the order.
func (c *Coordinator) GetOrder(orderID string) (model.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, exists := c.orders[orderID]
	if !exists {
		return model.Order{}, false
	}
	return copyOrder(order), true
}

// CountByStatus returns the number of orders currently in the status.
func (c *Coordinator) CountByStatus(status model.OrderStatus) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, order := range c.orders {
		if order.Status == status {
			count++
		}
	}
	return count
}

// ListByStatus returns copies of all orders currently in the status.
func (c *Coordinator) ListByStatus(status model.OrderStatus) []model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Order, 0)
	for _, order := range c.orders {
		if order.Status == status {
			out = append(out, copyOrder(order))
		}
	}
	return out
}

func (c *Coordinator) publish(ctx context.Context, subject, key string, event any) {
	if err := c.publisher.Publish(ctx, subject, key, event); err != nil {
		c.logger.Error("failed to publish event",
			zap.String("subject", subject),
			zap.String("order_id", key),
			zap.Error(err),
		)
	}
}

// stockLevels snapshots the post-operation quantity of every affected line.
// It must be called inside the coordinator's critical section, right after
// the ledger mutation: a read deferred to publish time could observe another
// order's commit and misstate this operation's resulting quantity.
func (c *Coordinator) stockLevels(lines []model.ReservationLine) []events.InventoryUpdated {
	out := make([]events.InventoryUpdated, len(lines))
	for i, line := range lines {
		out[i] = events.InventoryUpdated{
			ItemID:      line.ItemID,
			NewQuantity: c.ledger.StockOf(line.ItemID),
		}
	}
	return out
}

func (c *Coordinator) publishStockLevels(ctx context.Context, levels []events.InventoryUpdated) {
	for _, level := range levels {
		c.publish(ctx, config.InventoryUpdatedTopic, level.ItemID, level)
	}
}

func toEventLines(lines []model.ReservationLine) []events.ReservationLine {
	out := make([]events.ReservationLine, len(lines))
	for i, line := range lines {
		out[i] = events.ReservationLine{ItemID: line.ItemID, Quantity: line.Quantity}
	}
	return out
}

func copyOrder(o *model.Order) model.Order {
	cp := *o
	cp.Items = make([]model.OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return cp
}
