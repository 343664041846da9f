package handlers

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"fulfillmentservice/internal/events"
	"fulfillmentservice/internal/order"
	"fulfillmentservice/internal/platform/observability"
)

// MessageHandler defines the interface for processing incoming messages.
type MessageHandler interface {
	HandleOrderCreated(ctx context.Context, msg kafkago.Message) error
	HandlePaymentFailed(ctx context.Context, msg kafkago.Message) error
	HandleShipmentDelivered(ctx context.Context, msg kafkago.Message) error
}

// KafkaMessageHandler decodes bus payloads and dispatches them into the
// coordinator. A payload that cannot be decoded is dropped and logged; the
// subscription loop keeps running.
type KafkaMessageHandler struct {
	coordinator *order.Coordinator
	logger      observability.Logger
	tracer      observability.Tracer
}

// NewMessageHandler creates a new MessageHandler instance with explicit dependencies
func NewMessageHandler(coordinator *order.Coordinator, logger observability.Logger, tracer observability.Tracer) MessageHandler {
	return &KafkaMessageHandler{
		coordinator: coordinator,
		logger:      logger,
		tracer:      tracer,
	}
}

// HandleOrderCreated processes an order.created message
func (h *KafkaMessageHandler) HandleOrderCreated(ctx context.Context, msg kafkago.Message) error {
	msgCtx := h.extractTraceContext(ctx, msg.Headers)
	msgCtx, span := h.tracer.Start(msgCtx, "order_created_handle")
	defer span.End()

	var ev events.OrderCreated
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logMalformed("order.created", msg, err)
		return err
	}
	span.SetAttributes(
		attribute.String("order.id", ev.OrderID),
		attribute.Int("order.items", len(ev.Items)),
	)

	h.coordinator.ProcessOrderCreated(msgCtx, ev)
	return nil
}

// HandlePaymentFailed processes a payment.failed message
func (h *KafkaMessageHandler) HandlePaymentFailed(ctx context.Context, msg kafkago.Message) error {
	msgCtx := h.extractTraceContext(ctx, msg.Headers)
	msgCtx, span := h.tracer.Start(msgCtx, "payment_failed_handle")
	defer span.End()

	var ev events.PaymentFailed
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logMalformed("payment.failed", msg, err)
		return err
	}
	span.SetAttributes(attribute.String("order.id", ev.OrderID))

	h.coordinator.ProcessPaymentFailed(msgCtx, ev)
	return nil
}

// HandleShipmentDelivered processes a shipment.delivered message
func (h *KafkaMessageHandler) HandleShipmentDelivered(ctx context.Context, msg kafkago.Message) error {
	msgCtx := h.extractTraceContext(ctx, msg.Headers)
	msgCtx, span := h.tracer.Start(msgCtx, "shipment_delivered_handle")
	defer span.End()

	var ev events.ShipmentDelivered
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logMalformed("shipment.delivered", msg, err)
		return err
	}
	span.SetAttributes(attribute.String("order.id", ev.OrderID))

	h.coordinator.ProcessShipmentDelivered(msgCtx, ev)
	return nil
}

func (h *KafkaMessageHandler) logMalformed(subject string, msg kafkago.Message, err error) {
	h.logger.Error("❌ Dropping malformed payload",
		zap.String("subject", subject),
		zap.Error(err),
		zap.ByteString("raw_value", msg.Value),
	)
}

// extractTraceContext extracts OpenTelemetry trace context from Kafka message headers
func (h *KafkaMessageHandler) extractTraceContext(ctx context.Context, headers []kafkago.Header) context.Context {
	propagator := otel.GetTextMapPropagator()
	carrier := propagation.MapCarrier{}

	for _, header := range headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	return propagator.Extract(ctx, carrier)
}
