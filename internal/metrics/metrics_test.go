package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jafarshop/webhookgw/internal/domain"
)

func TestTopicLabel(t *testing.T) {
	assert.Equal(t, "orders/create", TopicLabel(domain.TopicOrderCreate))
	assert.Equal(t, "other", TopicLabel(domain.Topic("carts/update")))
	assert.Equal(t, "other", TopicLabel(""))
}

func TestObserveWebhook(t *testing.T) {
	Register()
	Register()

	handled := WebhookRequestsTotal.WithLabelValues("orders/create", string(domain.StateHandled), "200")
	before := testutil.ToFloat64(handled)
	dupBefore := testutil.ToFloat64(WebhookDuplicatesTotal)
	authBefore := testutil.ToFloat64(WebhookSignatureFailuresTotal)

	ObserveWebhook(domain.TopicOrderCreate, domain.StateHandled, 200, false, 0.01)
	ObserveWebhook(domain.TopicOrderCreate, domain.StateDuplicate, 200, true, 0.001)
	ObserveWebhook(domain.TopicOrderCreate, domain.StateRejected, 401, false, 0.001)
	ObserveWebhook(domain.TopicOrderCreate, domain.StateRejected, 400, false, 0.001)

	assert.Equal(t, before+1, testutil.ToFloat64(handled))
	assert.Equal(t, dupBefore+1, testutil.ToFloat64(WebhookDuplicatesTotal))
	assert.Equal(t, authBefore+1, testutil.ToFloat64(WebhookSignatureFailuresTotal))
}
