package events

import "time"

const (
	EventTypeLowStock    = "LowStockDetected"
	EventTypeMenuOrdered = "MenuOrdered"
	EventTypeDailyReset  = "DailyStockReset"

	lowStockSchema = "cafeteria/stock.low.v1.json"

	operatingDayLayout = "2006-01-02"
)

// LowStockPayload is published once per threshold crossing per operating day.
type LowStockPayload struct {
	GroupID      string    `json:"groupId"`
	StoreID      string    `json:"storeId,omitempty"`
	GroupName    string    `json:"groupName,omitempty"`
	Threshold    int       `json:"threshold"`
	Remaining    int       `json:"remaining"`
	OperatingDay string    `json:"operatingDay"`
	Timestamp    time.Time `json:"timestamp"`
}

type LowStockEvent struct {
	EventEnvelope
	Payload LowStockPayload `json:"payload"`
}

// LegacyLowStock is the flat shape published when envelopes are disabled.
type LegacyLowStock struct {
	EventType string `json:"eventType"`
	LowStockPayload
}

// MenuOrdered is published by the ordering side for each sold meal ticket.
// Stock consumes it and deducts Quantity servings from the group.
type MenuOrdered struct {
	OrderID   string    `json:"orderId"`
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId,omitempty"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// DailyReset is the scheduler's command to refill stock for a new operating
// day. An empty GroupID resets every group.
type DailyReset struct {
	GroupID      string    `json:"groupId,omitempty"`
	OperatingDay string    `json:"operatingDay,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
