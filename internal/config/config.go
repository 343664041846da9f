package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "fulfillment-service"
	ServiceVersion = "0.1.0"
)

// Bus subjects. Payload field names are part of the contract, see
// internal/events.
const (
	OrderCreatedTopic      = "order.created"
	PaymentFailedTopic     = "payment.failed"
	ShipmentDeliveredTopic = "shipment.delivered"
	OrderCancelledTopic    = "order.cancelled"
	OrderCompletedTopic    = "order.completed"
	InventoryReservedTopic = "inventory.reserved"
	InventoryReleasedTopic = "inventory.released"
	InventoryUpdatedTopic  = "inventory.updated"

	GroupID      = "fulfillment-service-group"
	BatchTimeout = 10 * time.Millisecond
	BatchSize    = 100
)

const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

// DefaultInventorySeed is the catalog used when INVENTORY_SEED is not set.
var DefaultInventorySeed = map[string]int{
	"ITEM-001": 100,
	"ITEM-002": 50,
}

type Config struct {
	KafkaBroker    string
	OtelEndpoint   string
	OtelAuthHeader string
	InventorySeed  map[string]int
}

func LoadConfig() (*Config, error) {
	config := &Config{
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
	}

	if config.KafkaBroker == "" {
		return nil, fmt.Errorf("KAFKA_BROKER environment variable is required")
	}

	seed, err := parseInventorySeed(os.Getenv("INVENTORY_SEED"))
	if err != nil {
		return nil, fmt.Errorf("invalid INVENTORY_SEED: %w", err)
	}
	config.InventorySeed = seed

	return config, nil
}

// TelemetryEnabled reports whether OTLP export is configured. Without it the
// service runs on the global no-op providers.
func (c *Config) TelemetryEnabled() bool {
	return c.OtelEndpoint != ""
}

// parseInventorySeed parses "ITEM-001=100,ITEM-002=50" into the seed catalog.
func parseInventorySeed(raw string) (map[string]int, error) {
	if raw == "" {
		seed := make(map[string]int, len(DefaultInventorySeed))
		for id, qty := range DefaultInventorySeed {
			seed[id] = qty
		}
		return seed, nil
	}

	seed := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		itemID, qtyStr, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not item=quantity", pair)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", pair, err)
		}
		if qty < 0 {
			return nil, fmt.Errorf("entry %q: quantity must not be negative", pair)
		}
		seed[strings.TrimSpace(itemID)] = qty
	}
	if len(seed) == 0 {
		return nil, fmt.Errorf("no entries")
	}
	return seed, nil
}
