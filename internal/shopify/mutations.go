package shopify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
)

// WebhookSubscriptionCreateMutation subscribes a callback URL to one topic
const WebhookSubscriptionCreateMutation = `
mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription {
      id
      topic
      format
      endpoint {
        __typename
        ... on WebhookHttpEndpoint {
          callbackUrl
        }
      }
    }
    userErrors {
      field
      message
    }
  }
}
`

// WebhookSubscriptionInput is the subscription body of the create mutation
type WebhookSubscriptionInput struct {
	CallbackURL string `json:"callbackUrl"`
	Format      string `json:"format"`
}

// WebhookSubscription is a subscription as returned by the Admin API
type WebhookSubscription struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	Format   string `json:"format"`
	Endpoint struct {
		Typename    string `json:"__typename"`
		CallbackURL string `json:"callbackUrl"`
	} `json:"endpoint"`
}

type webhookSubscriptionCreateResponse struct {
	WebhookSubscriptionCreate struct {
		WebhookSubscription *WebhookSubscription `json:"webhookSubscription"`
		UserErrors          []UserError          `json:"userErrors"`
	} `json:"webhookSubscriptionCreate"`
}

// SubscribeWebhooks creates one JSON subscription per topic pointing at
// callbackURL. It stops at the first failure and returns what was created.
func (c *Client) SubscribeWebhooks(ctx context.Context, callbackURL string, topics []domain.Topic) ([]WebhookSubscription, error) {
	created := make([]WebhookSubscription, 0, len(topics))
	for _, topic := range topics {
		variables := map[string]interface{}{
			"topic": topic.GraphQLName(),
			"webhookSubscription": WebhookSubscriptionInput{
				CallbackURL: callbackURL,
				Format:      "JSON",
			},
		}

		resp, err := c.Execute(ctx, WebhookSubscriptionCreateMutation, variables)
		if err != nil {
			return created, fmt.Errorf("subscribe %s: %w", topic, err)
		}

		var result webhookSubscriptionCreateResponse
		if err := json.Unmarshal(resp.Data, &result); err != nil {
			return created, fmt.Errorf("subscribe %s: failed to parse response: %w", topic, err)
		}

		payload := result.WebhookSubscriptionCreate
		if len(payload.UserErrors) > 0 {
			return created, fmt.Errorf("subscribe %s: %s", topic, payload.UserErrors[0].Message)
		}
		if payload.WebhookSubscription == nil {
			return created, fmt.Errorf("subscribe %s: no subscription returned", topic)
		}

		c.logger.Info("Webhook subscription created",
			zap.String("shop_domain", c.shopDomain),
			zap.String("topic", string(topic)),
			zap.String("subscription_id", payload.WebhookSubscription.ID),
		)
		created = append(created, *payload.WebhookSubscription)
	}
	return created, nil
}
