package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"fulfillmentservice/internal/config"
	"fulfillmentservice/internal/events"
	"fulfillmentservice/internal/inventory"
	"fulfillmentservice/internal/model"
)

type recordedEvent struct {
	Subject string
	Key     string
	Event   any
}

type recordingPublisher struct {
	mu       sync.Mutex
	recorded []recordedEvent
	failWith error
}

func (p *recordingPublisher) Publish(_ context.Context, subject, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.recorded = append(p.recorded, recordedEvent{Subject: subject, Key: key, Event: event})
	return nil
}

func (p *recordingPublisher) bySubject(subject string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, ev := range p.recorded {
		if ev.Subject == subject {
			out = append(out, ev)
		}
	}
	return out
}

func newTestCoordinator(seed map[string]int) (*Coordinator, *inventory.Ledger, *recordingPublisher) {
	ledger := inventory.NewLedger(seed)
	publisher := &recordingPublisher{}
	coordinator := NewCoordinator(ledger, publisher, zap.NewNop())
	return coordinator, ledger, publisher
}

func created(orderID string, items ...events.OrderItem) events.OrderCreated {
	return events.OrderCreated{OrderID: orderID, UserID: "U1", TotalAmount: 42.50, Items: items}
}

func TestCoordinator_OrderCreated_Reserves(t *testing.T) {
	coordinator, ledger, publisher := newTestCoordinator(map[string]int{"ITEM-001": 100})
	ctx := context.Background()

	coordinator.ProcessOrderCreated(ctx, created("ORD-1", events.OrderItem{ItemID: "ITEM-001", Quantity: 10, Price: 4.25}))

	order, ok := coordinator.GetOrder("ORD-1")
	if !ok {
		t.Fatal("expected order to exist")
	}
	if order.Status != model.OrderStatusPending {
		t.Errorf("expected pending, got %s", order.Status)
	}
	if got := ledger.StockOf("ITEM-001"); got != 90 {
		t.Errorf("expected stock 90, got %d", got)
	}
	if got := len(publisher.bySubject(config.InventoryReservedTopic)); got != 1 {
		t.Fatalf("expected 1 inventory.reserved, got %d", got)
	}
	updated := publisher.bySubject(config.InventoryUpdatedTopic)
	if len(updated) != 1 {
		t.Fatalf("expected 1 inventory.updated, got %d", len(updated))
	}
	if ev := updated[0].Event.(events.InventoryUpdated); ev.ItemID != "ITEM-001" || ev.NewQuantity != 90 {
		t.Errorf("unexpected inventory.updated payload: %+v", ev)
	}
}

func TestCoordinator_OrderCreated_Duplicate(t *testing.T) {
	coordinator, ledger, publisher := newTestCoordinator(map[string]int{"ITEM-001": 100})
	ctx := context.Background()
	ev := created("ORD-1", events.OrderItem{ItemID: "ITEM-001", Quantity: 10, Price: 4.25})

	coordinator.ProcessOrderCreated(ctx, ev)
	coordinator.ProcessOrderCreated(ctx, ev)

	if got := coordinator.CountByStatus(model.OrderStatusPending); got != 1 {
		t.Errorf("expected 1 pending order, got %d", got)
	}
	if got := ledger.StockOf("ITEM-001"); got != 90 {
		t.Errorf("expected stock decremented once to 90, got %d", got)
	}
	if got := len(publisher.bySubject(config.InventoryReservedTopic)); got != 1 {
		t.Errorf("expected 1 inventory.reserved, got %d", got)
	}
}

func TestCoordinator_OrderCreated_InsufficientStock(t *testing.T) {
	coordinator, ledger, publisher := newTestCoordinator(map[string]int{"ITEM-002": 50})
	ctx := context.Background()

	coordinator.ProcessOrderCreated(ctx, created("ORD-2", events.OrderItem{ItemID: "ITEM-002", Quantity: 60, Price: 1}))

	order, ok := coordinator.GetOrder("ORD-2")
	if !ok || order.Status != model.OrderStatusPending {
		t.Fatalf("expected pending order, got %+v ok=%v", order, ok)
	}
	if got := ledger.StockOf("ITEM-002"); got != 50 {
		t.Errorf("expected stock untouched at 50, got %d", got)
	}
	if got := len(publisher.recorded); got != 0 {
		t.Errorf("expected no events, got %d", got)
	}
}

func TestCoordinator_PaymentFailed_Cancels(t *testing.T) {
	coordinator, ledger, publisher := newTestCoordinator(map[string]int{"ITEM-001": 100})
	ctx := context.Background()
	coordinator.ProcessOrderCreated(ctx, created("ORD-1", events.OrderItem{ItemID: "ITEM-001", Quantity: 10, Price: 4.25}))

	coordinator.ProcessPaymentFailed(ctx, events.PaymentFailed{PaymentID: "PAY-1", OrderID: "ORD-1", FailureReason: "card declined"})

	order, _ := coordinator.GetOrder("ORD-1")
	if order.Status != model.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", order.Status)
	}
	if got := ledger.StockOf("ITEM-001"); got != 100 {
		t.Errorf("expected stock back at 100, got %d", got)
	}
	cancelled := publisher.bySubject(config.OrderCancelledTopic)
	if len(cancelled) != 1 {
		t.Fatalf("expected 1 order.cancelled, got %d", len(cancelled))
	}
	if ev := cancelled[0].Event.(events.OrderCancelled); ev.Reason != "Payment failed: card declined" {
		t.Errorf("unexpected reason %q", ev.Reason)
	}
	if got := len(publisher.bySubject(config.InventoryReleasedTopic)); got != 1 {
		t.Errorf("expected 1 inventory.released, got %d", got)
	}
}

func TestCoordinator_PaymentFailed_UnknownOrTerminal(t *testing.T) {
	coordinator, _, publisher := newTestCoordinator(map[string]int{"ITEM-001": 100})
	ctx := context.Background()

	coordinator.ProcessPaymentFailed(ctx, events.PaymentFailed{OrderID: "ORD-404", FailureReason: "x"})
	if got := len(publisher.recorded); got != 0 {
		t.Errorf("expected no events for unknown order, got %d", got)
	}

	coordinator.ProcessOrderCreated(ctx, created("ORD-1"))
	coordinator.ProcessShipmentDelivered(ctx, events.ShipmentDelivered{OrderID: "ORD-1", ShipmentID: "SHP-1"})
	coordinator.ProcessPaymentFailed(ctx, events.PaymentFailed{OrderID: "ORD-1", FailureReason: "late"})

	order, _ := coordinator.GetOrder("ORD-1")
	if order.Status != model.OrderStatusCompleted {
		t.Errorf("expected completed to stick, got %s", order.Status)
	}
	if got := len(publisher.bySubject(config.OrderCancelledTopic)); got != 0 {
		t.Errorf("expected no order.cancelled, got %d", got)
	}
}

func TestCoordinator_TerminalMonotonicity(t *testing.T) {
	ctx := context.Background()
	failed := events.PaymentFailed{OrderID: "ORD-1", FailureReason: "card declined"}
	delivered := events.ShipmentDelivered{OrderID: "ORD-1", ShipmentID: "SHP-1"}

	// Whichever terminal event is applied first wins; later events of either
	// kind change nothing.
	t.Run("payment failure first", func(t *testing.T) {
		coordinator, _, publisher := newTestCoordinator(map[string]int{})
		coordinator.ProcessOrderCreated(ctx, created("ORD-1"))
		coordinator.ProcessPaymentFailed(ctx, failed)
		coordinator.ProcessShipmentDelivered(ctx, delivered)
		coordinator.ProcessPaymentFailed(ctx, failed)

		order, _ := coordinator.GetOrder("ORD-1")
		if order.Status != model.OrderStatusCancelled {
			t.Errorf("expected cancelled, got %s", order.Status)
		}
		if got := len(publisher.bySubject(config.OrderCancelledTopic)); got != 1 {
			t.Errorf("expected exactly 1 order.cancelled, got %d", got)
		}
		if got := len(publisher.bySubject(config.OrderCompletedTopic)); got != 0 {
			t.Errorf("expected no order.completed, got %d", got)
		}
	})

	t.Run("delivery first", func(t *testing.T) {
		coordinator, _, publisher := newTestCoordinator(map[string]int{})
		coordinator.ProcessOrderCreated(ctx, created("ORD-1"))
		coordinator.ProcessShipmentDelivered(ctx, delivered)
		coordinator.ProcessPaymentFailed(ctx, failed)
		coordinator.ProcessShipmentDelivered(ctx, delivered)

		order, _ := coordinator.GetOrder("ORD-1")
		if order.Status != model.OrderStatusCompleted {
			t.Errorf("expected completed, got %s", order.Status)
		}
		if got := len(publisher.bySubject(config.OrderCompletedTopic)); got != 1 {
			t.Errorf("expected exactly 1 order.completed, got %d", got)
		}
		if got := len(publisher.bySubject(config.OrderCancelledTopic)); got != 0 {
			t.Errorf("expected no order.cancelled, got %d", got)
		}
	})
}

func TestCoordinator_ShipmentDelivered_PublishesProcessingTime(t *testing.T) {
	coordinator, _, publisher := newTestCoordinator(map[string]int{})
	ctx := context.Background()
	coordinator.ProcessOrderCreated(ctx, created("ORD-1"))

	coordinator.ProcessShipmentDelivered(ctx, events.ShipmentDelivered{
		OrderID:      "ORD-1",
		ShipmentID:   "SHP-1",
		DeliveryTime: "2024-01-01T00:00:00Z",
	})

	completed := publisher.bySubject(config.OrderCompletedTopic)
	if len(completed) != 1 {
		t.Fatalf("expected 1 order.completed, got %d", len(completed))
	}
	ev := completed[0].Event.(events.OrderCompleted)
	// completionTime is the processing timestamp, not the payload's
	// deliveryTime.
	if time.Since(ev.CompletionTime) > time.Minute || ev.CompletionTime.IsZero() {
		t.Errorf("completion time is not the processing time: %v", ev.CompletionTime)
	}
}

func TestCoordinator_CancelOrder(t *testing.T) {
	coordinator, ledger, publisher := newTestCoordinator(map[string]int{"ITEM-001": 100})
	ctx := context.Background()
	coordinator.ProcessOrderCreated(ctx, created("ORD-1", events.OrderItem{ItemID: "ITEM-001", Quantity: 10, Price: 4.25}))

	if err := coordinator.CancelOrder(ctx, "ORD-1", "operator request"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	order, _ := coordinator.GetOrder("ORD-1")
	if order.Status != model.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", order.Status)
	}
	if got := ledger.StockOf("ITEM-001"); got != 100 {
		t.Errorf("expected stock back at 100, got %d", got)
	}
	cancelled := publisher.bySubject(config.OrderCancelledTopic)
	if len(cancelled) != 1 || cancelled[0].Event.(events.OrderCancelled).Reason != "operator request" {
		t.Errorf("unexpected order.cancelled events: %+v", cancelled)
	}
}

func TestCoordinator_CancelOrder_Errors(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(map[string]int{})
	ctx := context.Background()

	if err := coordinator.CancelOrder(ctx, "ORD-404", "x"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got: %v", err)
	}

	coordinator.ProcessOrderCreated(ctx, created("ORD-1"))
	if err := coordinator.CancelOrder(ctx, "ORD-1", "first"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := coordinator.CancelOrder(ctx, "ORD-1", "second"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got: %v", err)
	}
}

// crossTrafficPublisher mutates the shared ledger from inside Publish,
// standing in for another order's reserve/release committing between this
// order's commit and its event emission.
type crossTrafficPublisher struct {
	recordingPublisher
	trigger string
	once    sync.Once
	mutate  func()
}

func (p *crossTrafficPublisher) Publish(ctx context.Context, subject, key string, event any) error {
	if subject == p.trigger {
		p.once.Do(p.mutate)
	}
	return p.recordingPublisher.Publish(ctx, subject, key, event)
}

func TestCoordinator_StockLevelsCapturedAtCommit(t *testing.T) {
	t.Run("reserve", func(t *testing.T) {
		ledger := inventory.NewLedger(map[string]int{"ITEM-001": 100})
		publisher := &crossTrafficPublisher{
			trigger: config.InventoryReservedTopic,
			mutate: func() {
				ledger.CheckAndReserve("ORD-2", []model.ReservationLine{{ItemID: "ITEM-001", Quantity: 10}})
			},
		}
		coordinator := NewCoordinator(ledger, publisher, zap.NewNop())

		coordinator.ProcessOrderCreated(context.Background(),
			created("ORD-1", events.OrderItem{ItemID: "ITEM-001", Quantity: 10, Price: 4.25}))

		// ORD-2 dropped the live stock to 80 before ORD-1's inventory.updated
		// went out, but the message must carry ORD-1's post-operation 90.
		updated := publisher.bySubject(config.InventoryUpdatedTopic)
		if len(updated) != 1 {
			t.Fatalf("expected 1 inventory.updated, got %d", len(updated))
		}
		if ev := updated[0].Event.(events.InventoryUpdated); ev.NewQuantity != 90 {
			t.Errorf("expected commit-time quantity 90, got %d", ev.NewQuantity)
		}
	})

	t.Run("release", func(t *testing.T) {
		ledger := inventory.NewLedger(map[string]int{"ITEM-001": 100})
		publisher := &crossTrafficPublisher{
			trigger: config.InventoryReleasedTopic,
			mutate: func() {
				ledger.CheckAndReserve("ORD-2", []model.ReservationLine{{ItemID: "ITEM-001", Quantity: 25}})
			},
		}
		coordinator := NewCoordinator(ledger, publisher, zap.NewNop())
		ctx := context.Background()

		coordinator.ProcessOrderCreated(ctx,
			created("ORD-1", events.OrderItem{ItemID: "ITEM-001", Quantity: 10, Price: 4.25}))
		coordinator.ProcessPaymentFailed(ctx,
			events.PaymentFailed{PaymentID: "PAY-1", OrderID: "ORD-1", FailureReason: "card declined"})

		// The release committed 90 -> 100; ORD-2's reservation landed after
		// it and must not leak into the release's inventory.updated.
		updated := publisher.bySubject(config.InventoryUpdatedTopic)
		if len(updated) != 2 {
			t.Fatalf("expected 2 inventory.updated, got %d", len(updated))
		}
		if ev := updated[1].Event.(events.InventoryUpdated); ev.NewQuantity != 100 {
			t.Errorf("expected commit-time quantity 100, got %d", ev.NewQuantity)
		}
	})
}

func TestCoordinator_PublishFailureDoesNotRollBack(t *testing.T) {
	ledger := inventory.NewLedger(map[string]int{})
	publisher := &recordingPublisher{failWith: errors.New("bus unavailable")}
	coordinator := NewCoordinator(ledger, publisher, zap.NewNop())
	ctx := context.Background()

	coordinator.ProcessOrderCreated(ctx, created("ORD-1"))
	coordinator.ProcessPaymentFailed(ctx, events.PaymentFailed{OrderID: "ORD-1", FailureReason: "card declined"})

	order, _ := coordinator.GetOrder("ORD-1")
	if order.Status != model.OrderStatusCancelled {
		t.Errorf("expected committed cancellation despite publish failure, got %s", order.Status)
	}
}

func TestCoordinator_Queries(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(map[string]int{})
	ctx := context.Background()
	coordinator.ProcessOrderCreated(ctx, created("ORD-1"))
	coordinator.ProcessOrderCreated(ctx, created("ORD-2"))
	coordinator.ProcessOrderCreated(ctx, created("ORD-3"))
	coordinator.ProcessPaymentFailed(ctx, events.PaymentFailed{OrderID: "ORD-2", FailureReason: "x"})
	coordinator.ProcessShipmentDelivered(ctx, events.ShipmentDelivered{OrderID: "ORD-3", ShipmentID: "SHP-1"})

	if got := coordinator.CountByStatus(model.OrderStatusPending); got != 1 {
		t.Errorf("pending count = %d", got)
	}
	if got := coordinator.CountByStatus(model.OrderStatusCancelled); got != 1 {
		t.Errorf("cancelled count = %d", got)
	}
	if got := coordinator.CountByStatus(model.OrderStatusCompleted); got != 1 {
		t.Errorf("completed count = %d", got)
	}
	pending := coordinator.ListByStatus(model.OrderStatusPending)
	if len(pending) != 1 || pending[0].ID != "ORD-1" {
		t.Errorf("unexpected pending list: %+v", pending)
	}

	// Returned orders are snapshots; mutating them must not leak back.
	pending[0].Status = model.OrderStatusCompleted
	if order, _ := coordinator.GetOrder("ORD-1"); order.Status != model.OrderStatusPending {
		t.Error("query result aliased internal state")
	}

	if _, ok := coordinator.GetOrder("ORD-404"); ok {
		t.Error("expected lookup miss for unknown order")
	}
}
