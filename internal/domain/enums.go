package domain

import "strings"

// Topic is the category of event a webhook represents
type Topic string

const (
	TopicOrderCreate     Topic = "orders/create"
	TopicOrderUpdate     Topic = "orders/updated"
	TopicOrderCancel     Topic = "orders/cancelled"
	TopicInventoryUpdate Topic = "inventory_levels/update"
	TopicProductUpdate   Topic = "products/update"
	TopicProductDelete   Topic = "products/delete"
	TopicRefundCreate    Topic = "refunds/create"
	TopicAppUninstalled  Topic = "app/uninstalled"
)

// Topics lists every topic this system handles
var Topics = []Topic{
	TopicOrderCreate,
	TopicOrderUpdate,
	TopicOrderCancel,
	TopicInventoryUpdate,
	TopicProductUpdate,
	TopicProductDelete,
	TopicRefundCreate,
	TopicAppUninstalled,
}

// ParseTopic normalizes a topic header value. Unknown values are returned
// as-is so the dispatcher can log them.
func ParseTopic(raw string) Topic {
	return Topic(strings.ToLower(strings.TrimSpace(raw)))
}

// IsValid checks if the topic is one of the supported topics
func (t Topic) IsValid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// GraphQLName returns the Admin API enum name, e.g. ORDERS_CREATE
func (t Topic) GraphQLName() string {
	return strings.ToUpper(strings.ReplaceAll(string(t), "/", "_"))
}

// VerificationResult is the outcome of signature verification
type VerificationResult string

const (
	VerificationVerified          VerificationResult = "verified"
	VerificationSignatureMismatch VerificationResult = "signature_mismatch"
)

// ProcessingResult is the recorded result of one delivery
type ProcessingResult string

const (
	ResultProcessing ProcessingResult = "processing"
	ResultAccepted   ProcessingResult = "accepted"
	ResultDuplicate  ProcessingResult = "duplicate"
	ResultRejected   ProcessingResult = "rejected"
	ResultError      ProcessingResult = "error"
)

// IsFinal reports whether a stored result can no longer be re-claimed
func (r ProcessingResult) IsFinal() bool {
	return r == ResultAccepted || r == ResultRejected
}

// DeliveryState tracks one delivery through the gateway pipeline
type DeliveryState string

const (
	StateReceived     DeliveryState = "received"
	StateVerifying    DeliveryState = "verifying"
	StateRejected     DeliveryState = "rejected"
	StateDuplicate    DeliveryState = "duplicate"
	StateDispatching  DeliveryState = "dispatching"
	StateHandled      DeliveryState = "handled"
	StateHandlerError DeliveryState = "handler_error"
)

// CanTransitionTo checks if a pipeline transition is valid
func (s DeliveryState) CanTransitionTo(next DeliveryState) bool {
	switch s {
	case StateReceived:
		return next == StateVerifying
	case StateVerifying:
		return next == StateRejected ||
			next == StateDuplicate ||
			next == StateDispatching
	case StateDispatching:
		return next == StateHandled ||
			next == StateHandlerError
	default:
		return false // Terminal states
	}
}

// IsTerminal reports whether no further transition is possible
func (s DeliveryState) IsTerminal() bool {
	switch s {
	case StateRejected, StateDuplicate, StateHandled, StateHandlerError:
		return true
	default:
		return false
	}
}

// ConnectionStatus represents the lifecycle of a linked store
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "active"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// OrderStatus represents the status of an imported order
type OrderStatus string

const (
	OrderStatusCreated            OrderStatus = "created"
	OrderStatusUpdated            OrderStatus = "updated"
	OrderStatusPartiallyFulfilled OrderStatus = "partially_fulfilled"
	OrderStatusFulfilled          OrderStatus = "fulfilled"
	OrderStatusCancelled          OrderStatus = "cancelled"
)

// IsValid checks if the order status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusCreated,
		OrderStatusUpdated,
		OrderStatusPartiallyFulfilled,
		OrderStatusFulfilled,
		OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a status transition is valid
func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	if !newStatus.IsValid() {
		return false
	}
	switch s {
	case OrderStatusCancelled:
		return false // Terminal
	default:
		if newStatus == OrderStatusCreated {
			return s == OrderStatusCreated
		}
		return true
	}
}

// FulfillmentStatusToOrderStatus maps a Shopify fulfillment_status
func FulfillmentStatusToOrderStatus(fulfillment string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(fulfillment)) {
	case "fulfilled":
		return OrderStatusFulfilled
	case "partial", "partially_fulfilled":
		return OrderStatusPartiallyFulfilled
	default:
		return OrderStatusUpdated
	}
}

// PaymentStatus represents how much of an order has been paid
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// FinancialStatusToPayment maps a Shopify financial_status
func FinancialStatusToPayment(financial string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(financial)) {
	case "paid":
		return PaymentPaid
	case "partially_paid":
		return PaymentPartial
	case "refunded", "partially_refunded":
		return PaymentRefunded
	default:
		return PaymentPending
	}
}

// ReturnStatus represents the status of a return record
type ReturnStatus string

const (
	ReturnStatusRegistered ReturnStatus = "registered"
)

// ReturnReason classifies why an item came back
type ReturnReason string

const (
	ReturnReasonNoLongerNeeded ReturnReason = "no_longer_needed"
	ReturnReasonOther          ReturnReason = "other"
)

// RestockTypeToReason maps a Shopify refund line restock_type
func RestockTypeToReason(restockType string) ReturnReason {
	if strings.EqualFold(strings.TrimSpace(restockType), "cancel") {
		return ReturnReasonNoLongerNeeded
	}
	return ReturnReasonOther
}
