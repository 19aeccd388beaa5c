// shopify/client.go
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the Shopify Admin GraphQL API.
type Client struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
}

func NewClient(shopDomain, apiVersion, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		Endpoint: fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, apiVersion),
		Token:    token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors"`
}

// do posts one GraphQL operation and decodes its data into out.
func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call shopify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusLocked {
		return ErrOrderLocked
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var gql graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return fmt.Errorf("failed to decode shopify response: %w", err)
	}
	if len(gql.Errors) > 0 {
		for _, ge := range gql.Errors {
			if isLockedMessage(ge.Message) {
				return fmt.Errorf("%w: %s", ErrOrderLocked, ge.Message)
			}
		}
		return gql.Errors
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("failed to decode shopify data: %w", err)
	}
	return nil
}

// FindCustomerByEmail returns nil, nil when no customer has that email.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var data struct {
		Customers struct {
			Nodes []Customer `json:"nodes"`
		} `json:"customers"`
	}
	vars := map[string]any{"query": fmt.Sprintf("email:%q", email)}
	if err := c.do(ctx, findCustomerQuery, vars, &data); err != nil {
		return nil, err
	}
	if len(data.Customers.Nodes) == 0 {
		return nil, nil
	}
	return &data.Customers.Nodes[0], nil
}

func (c *Client) CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error) {
	var data struct {
		CustomerCreate struct {
			Customer   *Customer   `json:"customer"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"customerCreate"`
	}
	if err := c.do(ctx, createCustomerMutation, map[string]any{"input": input}, &data); err != nil {
		return nil, err
	}
	if err := classifyUserErrors(data.CustomerCreate.UserErrors); err != nil {
		return nil, err
	}
	if data.CustomerCreate.Customer == nil {
		return nil, fmt.Errorf("shopify: customerCreate returned no customer")
	}
	return data.CustomerCreate.Customer, nil
}

// CreateDiscount creates a basic code discount and returns its id.
func (c *Client) CreateDiscount(ctx context.Context, spec DiscountSpec) (string, error) {
	var data struct {
		DiscountCodeBasicCreate struct {
			CodeDiscountNode *struct {
				ID string `json:"id"`
			} `json:"codeDiscountNode"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"discountCodeBasicCreate"`
	}
	vars := map[string]any{"basicCodeDiscount": discountInput(spec)}
	if err := c.do(ctx, createDiscountMutation, vars, &data); err != nil {
		return "", err
	}
	if err := classifyUserErrors(data.DiscountCodeBasicCreate.UserErrors); err != nil {
		return "", err
	}
	if data.DiscountCodeBasicCreate.CodeDiscountNode == nil {
		return "", fmt.Errorf("shopify: discountCodeBasicCreate returned no discount")
	}
	return data.DiscountCodeBasicCreate.CodeDiscountNode.ID, nil
}

func (c *Client) UpdateDiscount(ctx context.Context, id string, spec DiscountSpec) error {
	var data struct {
		DiscountCodeBasicUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"discountCodeBasicUpdate"`
	}
	vars := map[string]any{"id": id, "basicCodeDiscount": discountInput(spec)}
	if err := c.do(ctx, updateDiscountMutation, vars, &data); err != nil {
		return err
	}
	return classifyUserErrors(data.DiscountCodeBasicUpdate.UserErrors)
}

func (c *Client) DeleteDiscount(ctx context.Context, id string) error {
	var data struct {
		DiscountCodeDelete struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"discountCodeDelete"`
	}
	if err := c.do(ctx, deleteDiscountMutation, map[string]any{"id": id}, &data); err != nil {
		return err
	}
	return classifyUserErrors(data.DiscountCodeDelete.UserErrors)
}

func discountInput(spec DiscountSpec) map[string]any {
	input := map[string]any{
		"title":                  spec.Title,
		"code":                   spec.Code,
		"startsAt":               spec.StartsAt.UTC().Format(time.RFC3339),
		"appliesOncePerCustomer": spec.AppliesOncePerCustomer,
		"customerGets": map[string]any{
			"value": map[string]any{"percentage": spec.Percentage.InexactFloat64()},
			"items": map[string]any{"all": true},
		},
	}
	if spec.EndsAt != nil {
		input["endsAt"] = spec.EndsAt.UTC().Format(time.RFC3339)
	} else {
		input["endsAt"] = nil
	}
	if spec.UsageLimit != nil {
		input["usageLimit"] = *spec.UsageLimit
	} else {
		input["usageLimit"] = nil
	}
	if spec.Audience.IsAll() {
		input["customerSelection"] = map[string]any{"all": true}
	} else {
		input["customerSelection"] = map[string]any{
			"customerSegments": map[string]any{"add": spec.Audience.SegmentIDs()},
		}
	}
	return input
}
