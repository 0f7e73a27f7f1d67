package shopify

import (
	"context"
	"encoding/json"
	"fmt"
)

// WebhookSubscriptionsQuery pages through the shop's webhook subscriptions
const WebhookSubscriptionsQuery = `
query webhookSubscriptions($first: Int!, $after: String) {
  webhookSubscriptions(first: $first, after: $after) {
    pageInfo {
      hasNextPage
      endCursor
    }
    edges {
      node {
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
    }
  }
}
`

const subscriptionsPageSize = 100

type webhookSubscriptionsResponse struct {
	WebhookSubscriptions struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Edges []struct {
			Node WebhookSubscription `json:"node"`
		} `json:"edges"`
	} `json:"webhookSubscriptions"`
}

// ListWebhookSubscriptions returns every webhook subscription of the shop
func (c *Client) ListWebhookSubscriptions(ctx context.Context) ([]WebhookSubscription, error) {
	var (
		out    []WebhookSubscription
		cursor *string
	)
	for {
		variables := map[string]interface{}{"first": subscriptionsPageSize}
		if cursor != nil {
			variables["after"] = *cursor
		}

		resp, err := c.Execute(ctx, WebhookSubscriptionsQuery, variables)
		if err != nil {
			return nil, err
		}

		var page webhookSubscriptionsResponse
		if err := json.Unmarshal(resp.Data, &page); err != nil {
			return nil, fmt.Errorf("failed to parse webhook subscriptions: %w", err)
		}

		for _, edge := range page.WebhookSubscriptions.Edges {
			out = append(out, edge.Node)
		}

		info := page.WebhookSubscriptions.PageInfo
		if !info.HasNextPage || info.EndCursor == "" {
			return out, nil
		}
		next := info.EndCursor
		cursor = &next
	}
}
