// Package subscriptions manages the product subscriptions of the OData catalogue
// and receives their push notifications.
package subscriptions

import (
	"time"

	"github.com/airbusgeo/cdse-dl/common"
)

// Type of subscription
type Type string

const (
	TypePull Type = "pull"
	TypePush Type = "push"
)

// Event triggering a notification
type Event string

const (
	EventCreated  Event = "created"
	EventModified Event = "modified"
	EventDeleted  Event = "deleted"
)

// Status of a subscription
type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// MaxRead is the maximum number of notifications returned by Read
const MaxRead = 20

// Info describes a subscription
type Info struct {
	Id                   string     `json:"Id"`
	FilterParam          string     `json:"FilterParam"`
	StageOrder           bool       `json:"StageOrder"`
	Priority             int        `json:"Priority"`
	Status               Status     `json:"Status"`
	LastNotificationDate *time.Time `json:"LastNotificationDate,omitempty"`
	SubscriptionEvent    []Event    `json:"SubscriptionEvent"`
	SubmissionDate       *time.Time `json:"SubmissionDate,omitempty"`
	NotificationEndpoint string     `json:"NotificationEndpoint,omitempty"`
}

// Entity is a notification, pulled with Read or pushed to the notification endpoint
type Entity struct {
	SubscriptionEvent Event           `json:"SubscriptionEvent"`
	ProductId         string          `json:"ProductId"`
	ProductName       string          `json:"ProductName,omitempty"`
	SubscriptionId    string          `json:"SubscriptionId"`
	NotificationDate  time.Time       `json:"NotificationDate"`
	AckId             string          `json:"AckId,omitempty"`
	Value             *common.Product `json:"value,omitempty"`
}

// Product returns the notified product. Only Id and Name are set if the notification has no value.
func (e Entity) Product() common.Product {
	if e.Value != nil {
		return *e.Value
	}
	return common.Product{Id: e.ProductId, Name: e.ProductName}
}

// AckInfo is the state of the queue after an acknowledgment
type AckInfo struct {
	AckMessagesNum     int `json:"AckMessagesNum"`
	CurrentQueueLength int `json:"CurrentQueueLength"`
	MaxQueueLength     int `json:"MaxQueueLength"`
}

// Endpoint is the notification endpoint of a push subscription
type Endpoint struct {
	URL      string
	Username string
	Password string
}
