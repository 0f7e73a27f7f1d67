package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, TopicOrderCreate, ParseTopic(" Orders/Create "))
	assert.True(t, TopicRefundCreate.IsValid())
	assert.False(t, Topic("carts/update").IsValid())
	assert.Equal(t, "INVENTORY_LEVELS_UPDATE", TopicInventoryUpdate.GraphQLName())
	assert.Equal(t, "APP_UNINSTALLED", TopicAppUninstalled.GraphQLName())
}

func TestDeliveryState_CanTransitionTo(t *testing.T) {
	testCases := []struct {
		from     DeliveryState
		to       DeliveryState
		expected bool
	}{
		{StateReceived, StateVerifying, true},
		{StateReceived, StateDispatching, false},
		{StateVerifying, StateRejected, true},
		{StateVerifying, StateDuplicate, true},
		{StateVerifying, StateDispatching, true},
		{StateVerifying, StateHandled, false},
		{StateDispatching, StateHandled, true},
		{StateDispatching, StateHandlerError, true},
		{StateHandled, StateDispatching, false},
		{StateRejected, StateVerifying, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.from.CanTransitionTo(tc.to))
		})
	}

	assert.True(t, StateDuplicate.IsTerminal())
	assert.True(t, StateHandlerError.IsTerminal())
	assert.False(t, StateVerifying.IsTerminal())
}

func TestProcessingResult_IsFinal(t *testing.T) {
	assert.True(t, ResultAccepted.IsFinal())
	assert.True(t, ResultRejected.IsFinal())
	assert.False(t, ResultError.IsFinal())
	assert.False(t, ResultProcessing.IsFinal())
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	testCases := []struct {
		name     string
		from     OrderStatus
		to       OrderStatus
		expected bool
	}{
		{"created_to_fulfilled", OrderStatusCreated, OrderStatusFulfilled, true},
		{"created_to_created", OrderStatusCreated, OrderStatusCreated, true},
		{"updated_to_created", OrderStatusUpdated, OrderStatusCreated, false},
		{"fulfilled_to_cancelled", OrderStatusFulfilled, OrderStatusCancelled, true},
		{"cancelled_is_terminal", OrderStatusCancelled, OrderStatusUpdated, false},
		{"invalid_target", OrderStatusCreated, OrderStatus("shipped"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestStatusMappings(t *testing.T) {
	assert.Equal(t, OrderStatusFulfilled, FulfillmentStatusToOrderStatus("fulfilled"))
	assert.Equal(t, OrderStatusPartiallyFulfilled, FulfillmentStatusToOrderStatus("partial"))
	assert.Equal(t, OrderStatusUpdated, FulfillmentStatusToOrderStatus(""))
	assert.Equal(t, OrderStatusUpdated, FulfillmentStatusToOrderStatus("restocked"))

	assert.Equal(t, PaymentPaid, FinancialStatusToPayment("PAID"))
	assert.Equal(t, PaymentPartial, FinancialStatusToPayment("partially_paid"))
	assert.Equal(t, PaymentRefunded, FinancialStatusToPayment("partially_refunded"))
	assert.Equal(t, PaymentPending, FinancialStatusToPayment("authorized"))

	assert.Equal(t, ReturnReasonNoLongerNeeded, RestockTypeToReason("cancel"))
	assert.Equal(t, ReturnReasonOther, RestockTypeToReason("return"))
	assert.Equal(t, ReturnReasonOther, RestockTypeToReason(""))
}
