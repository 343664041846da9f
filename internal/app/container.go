package app

import (
	"context"
	"fmt"
	"os"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fulfillmentservice/internal/config"
	"fulfillmentservice/internal/handlers"
	"fulfillmentservice/internal/inventory"
	"fulfillmentservice/internal/order"
	"fulfillmentservice/internal/platform/kafka"
	"fulfillmentservice/internal/platform/observability"
)

// Container holds expensive-to-create singleton resources and dependencies
type Container struct {
	config            *config.Config
	logger            observability.Logger
	tracer            observability.Tracer
	consumers         map[string]kafka.Consumer
	publisher         *kafka.TopicPublisher
	ledger            *inventory.Ledger
	coordinator       *order.Coordinator
	consumerServices  []*handlers.ConsumerService
	otelLogShutdown   func(context.Context) error
	otelTraceShutdown func(context.Context) error
}

// NewContainer creates and initializes all infrastructure components
func NewContainer(ctx context.Context) (*Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	container := &Container{
		config:    cfg,
		consumers: make(map[string]kafka.Consumer),
	}

	if err := container.setupLogger(ctx); err != nil {
		return nil, err
	}

	if err := container.setupObservability(ctx); err != nil {
		return nil, err
	}

	container.setupDomain()

	return container, nil
}

// setupLogger initializes the logger before the OTel bridge is available
func (c *Container) setupLogger(ctx context.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	c.logger = logger
	return nil
}

// setupObservability configures OpenTelemetry logging and tracing, then Kafka
func (c *Container) setupObservability(ctx context.Context) error {
	otelLogShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}
	c.otelLogShutdown = otelLogShutdown

	tp, otelTraceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	}
	c.otelTraceShutdown = otelTraceShutdown

	if c.config.TelemetryEnabled() {
		c.reinitializeLoggerWithOTel()
	}

	c.tracer = otel.Tracer(config.ServiceName)

	// Keep the interface nil when no provider was built, so the writer setup
	// can tell the difference.
	var tracerProvider trace.TracerProvider
	if tp != nil {
		tracerProvider = tp
	}
	if err := c.setupKafkaWithTracer(ctx, tracerProvider); err != nil {
		return err
	}

	return nil
}

// reinitializeLoggerWithOTel creates a new logger with OpenTelemetry integration
func (c *Container) reinitializeLoggerWithOTel() {
	logProvider := global.GetLoggerProvider()
	instrumentationScopeName := "fulfillment-service.manual"
	otelZapCore := otelzap.NewCore(instrumentationScopeName,
		otelzap.WithLoggerProvider(logProvider),
	)

	consoleEncoderConfig := zap.NewProductionEncoderConfig()
	consoleEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(consoleEncoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)

	finalCore := zapcore.NewTee(otelZapCore, consoleCore)
	logger := zap.New(finalCore,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	)

	c.logger = logger
	c.logger.Info("Logger re-initialized with OpenTelemetry bridge")
}

// setupKafkaWithTracer initializes the bus readers and writers. An
// unreachable broker at startup is fatal.
func (c *Container) setupKafkaWithTracer(ctx context.Context, tp trace.TracerProvider) error {
	conn, err := kafkago.DialContext(ctx, "tcp", c.config.KafkaBroker)
	if err != nil {
		return fmt.Errorf("cannot connect to bus at %s: %w", c.config.KafkaBroker, err)
	}
	_ = conn.Close()

	for _, topic := range []string{
		config.OrderCreatedTopic,
		config.PaymentFailedTopic,
		config.ShipmentDeliveredTopic,
	} {
		readerConfig := kafkago.ReaderConfig{
			Brokers: []string{c.config.KafkaBroker},
			Topic:   topic,
			GroupID: config.GroupID,
		}

		baseReader := kafkago.NewReader(readerConfig)
		reader, err := otelkafka.NewReader(baseReader)
		if err != nil {
			return err
		}
		c.consumers[topic] = reader
	}

	producers := make(map[string]kafka.Producer)
	for _, topic := range []string{
		config.OrderCancelledTopic,
		config.OrderCompletedTopic,
		config.InventoryReservedTopic,
		config.InventoryReleasedTopic,
		config.InventoryUpdatedTopic,
	} {
		baseWriter := &kafkago.Writer{
			Addr:         kafkago.TCP(c.config.KafkaBroker),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			BatchTimeout: config.BatchTimeout,
			BatchSize:    config.BatchSize,
		}

		attrs := otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		)

		var writer kafka.Producer
		if tp != nil {
			writer, err = otelkafka.NewWriter(baseWriter,
				otelkafka.WithTracerProvider(tp),
				otelkafka.WithPropagator(propagation.TraceContext{}),
				attrs,
			)
		} else {
			writer, err = otelkafka.NewWriter(baseWriter,
				otelkafka.WithPropagator(propagation.TraceContext{}),
				attrs,
			)
		}
		if err != nil {
			return err
		}
		producers[topic] = writer
	}
	c.publisher = kafka.NewTopicPublisher(producers)

	return nil
}

// setupDomain wires the ledger, the coordinator, and one consumer service
// per subscribed subject.
func (c *Container) setupDomain() {
	c.ledger = inventory.NewLedger(c.config.InventorySeed)
	c.coordinator = order.NewCoordinator(c.ledger, c.publisher, c.logger)

	handler := handlers.NewMessageHandler(c.coordinator, c.logger, c.tracer)
	c.consumerServices = []*handlers.ConsumerService{
		handlers.NewConsumerService(config.OrderCreatedTopic, c.consumers[config.OrderCreatedTopic], handler.HandleOrderCreated, c.logger),
		handlers.NewConsumerService(config.PaymentFailedTopic, c.consumers[config.PaymentFailedTopic], handler.HandlePaymentFailed, c.logger),
		handlers.NewConsumerService(config.ShipmentDeliveredTopic, c.consumers[config.ShipmentDeliveredTopic], handler.HandleShipmentDelivered, c.logger),
	}
}

// Shutdown gracefully shuts down all infrastructure components
func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	for topic, consumer := range c.consumers {
		if err := consumer.Close(); err != nil {
			c.logger.Error("Failed to close consumer", zap.String("subject", topic), zap.Error(err))
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Error("Failed to close publisher", zap.Error(err))
		}
	}

	if c.otelTraceShutdown != nil {
		if err := c.otelTraceShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel tracing", zap.Error(err))
		}
	}

	if c.otelLogShutdown != nil {
		if err := c.otelLogShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel logging", zap.Error(err))
		}
	}

	if err := c.logger.Sync(); err != nil {
		// Can't log this error since logger might be closed
		fmt.Printf("Failed to sync logger: %v\n", err)
	}

	c.logger.Info("Infrastructure shutdown complete")
}

// Getters for accessing components
func (c *Container) Logger() observability.Logger { return c.logger }

func (c *Container) Tracer() observability.Tracer { return c.tracer }

func (c *Container) Coordinator() *order.Coordinator { return c.coordinator }

func (c *Container) Ledger() *inventory.Ledger { return c.ledger }

func (c *Container) ConsumerServices() []*handlers.ConsumerService { return c.consumerServices }
