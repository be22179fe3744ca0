package models

import "time"

// Event types published to the order events topic.
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderFailed        = "ORDER_FAILED"
	EventTypeEntitlementGranted = "ENTITLEMENT_GRANTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a pending order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64               `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	UserID      int64               `json:"user_id,omitempty"`
	Total       int64               `json:"total"`
	Items       []OrderLineItemData `json:"items"`
}

// OrderPaidEvent published when reconciliation marks an order paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID          int64  `json:"order_id"`
	OrderNumber      string `json:"order_number"`
	UserID           int64  `json:"user_id,omitempty"`
	Total            int64  `json:"total"`
	GatewaySessionID string `json:"gateway_session_id,omitempty"`
	PaymentIntentID  string `json:"payment_intent_id,omitempty"`
	Trigger          string `json:"trigger"`
}

// OrderFailedEvent published when an order fails or expires
type OrderFailedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// EntitlementGrantedEvent published once per newly created entitlement
type EntitlementGrantedEvent struct {
	BaseEvent
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
	OrderID   int64 `json:"order_id,omitempty"`
}

// OrderLineItemData represents a frozen line item in events
type OrderLineItemData struct {
	ProductID    int64  `json:"product_id,omitempty"`
	ProductTitle string `json:"product_title"`
	ProductPrice int64  `json:"product_price"`
	Quantity     int    `json:"quantity"`
}

// Reconciliation triggers carried on OrderPaidEvent.
const (
	PaidTriggerWebhook     = "webhook"
	PaidTriggerSuccessPage = "success_page"
)
