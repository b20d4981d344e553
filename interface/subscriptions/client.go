package subscriptions

import (
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/service"
)

// DefaultURL is the subscriptions endpoint
const DefaultURL = odata.DefaultBaseURL + "/Subscriptions"

// Client manages the subscriptions of an account. The Doer must be authenticated (auth.Session).
type Client struct {
	session service.Doer
	url     string
}

// NewClient creates a client. url is optional (DefaultURL).
func NewClient(session service.Doer, url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{session: session, url: strings.TrimRight(url, "/")}
}

type body struct {
	SubscriptionEvent      []Event `json:"SubscriptionEvent,omitempty"`
	FilterParam            string  `json:"FilterParam,omitempty"`
	Status                 Status  `json:"Status,omitempty"`
	NotificationEndpoint   string  `json:"NotificationEndpoint,omitempty"`
	NotificationEpUsername string  `json:"NotificationEpUsername,omitempty"`
	NotificationEpPassword string  `json:"NotificationEpPassword,omitempty"`
}

func (b *body) setEndpoint(endpoint *Endpoint) {
	if endpoint != nil {
		b.NotificationEndpoint = endpoint.URL
		b.NotificationEpUsername = endpoint.Username
		b.NotificationEpPassword = endpoint.Password
	}
}

func (c *Client) subscriptionURL(id string) string {
	return fmt.Sprintf("%s(%s)", c.url, id)
}

// Create creates a subscription on the products matching the filter (all if empty).
// events defaults to "created" on the server side. A push subscription requires an endpoint.
func (c *Client) Create(ctx context.Context, t Type, filter odata.Filter, events []Event, endpoint *Endpoint) (Info, error) {
	switch t {
	case TypePush:
		if endpoint == nil || endpoint.URL == "" {
			return Info{}, &service.ConfigError{Msg: "a push subscription requires a notification endpoint"}
		}
	case TypePull:
		if endpoint != nil {
			return Info{}, &service.ConfigError{Msg: "a pull subscription does not have a notification endpoint"}
		}
	default:
		return Info{}, &service.ConfigError{Msg: fmt.Sprintf("invalid subscription type: %s", t)}
	}
	b := body{SubscriptionEvent: events, FilterParam: filter.String()}
	b.setEndpoint(endpoint)
	var info Info
	if err := service.DoJSON(ctx, c.session, http.MethodPost, c.url, b, &info); err != nil {
		return Info{}, fmt.Errorf("Subscriptions.Create: %w", err)
	}
	return info, nil
}

// Update changes the status and/or the endpoint of a subscription
func (c *Client) Update(ctx context.Context, id string, status Status, endpoint *Endpoint) (Info, error) {
	b := body{Status: status}
	b.setEndpoint(endpoint)
	var info Info
	if err := service.DoJSON(ctx, c.session, http.MethodPatch, c.subscriptionURL(id), b, &info); err != nil {
		return Info{}, fmt.Errorf("Subscriptions.Update: %w", err)
	}
	return info, nil
}

// Delete deletes a subscription
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := service.DoJSON(ctx, c.session, http.MethodDelete, c.subscriptionURL(id), nil, nil); err != nil {
		return fmt.Errorf("Subscriptions.Delete: %w", err)
	}
	return nil
}

// Info returns a subscription
func (c *Client) Info(ctx context.Context, id string) (Info, error) {
	var info Info
	if err := service.GetJSON(ctx, c.session, c.subscriptionURL(id), &info); err != nil {
		return Info{}, fmt.Errorf("Subscriptions.Info: %w", err)
	}
	return info, nil
}

// List returns the subscriptions of the account
func (c *Client) List(ctx context.Context) ([]Info, error) {
	var infos []Info
	if err := service.GetJSON(ctx, c.session, c.url+"/Info", &infos); err != nil {
		return nil, fmt.Errorf("Subscriptions.List: %w", err)
	}
	return infos, nil
}

// Read returns up to limit (1 to MaxRead) notifications of a pull subscription, without removing them
func (c *Client) Read(ctx context.Context, id string, limit int) ([]Entity, error) {
	if limit < 1 || limit > MaxRead {
		return nil, fmt.Errorf("Subscriptions.Read: limit must be between 1 and %d", MaxRead)
	}
	var entities []Entity
	if err := service.GetJSON(ctx, c.session, fmt.Sprintf("%s/Read?$top=%d", c.subscriptionURL(id), limit), &entities); err != nil {
		return nil, fmt.Errorf("Subscriptions.Read: %w", err)
	}
	return entities, nil
}

// Ack acknowledges a notification and all the previous ones, removing them from the queue
func (c *Client) Ack(ctx context.Context, id, ackID string) (AckInfo, error) {
	var info AckInfo
	url := fmt.Sprintf("%s/Ack?$ackid=%s", c.subscriptionURL(id), neturl.QueryEscape(ackID))
	if err := service.DoJSON(ctx, c.session, http.MethodPost, url, nil, &info); err != nil {
		return AckInfo{}, fmt.Errorf("Subscriptions.Ack: %w", err)
	}
	return info, nil
}
