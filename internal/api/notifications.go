package api

import (
	"context"
	"net/url"

	"github.com/Crosschaser/Protos/internal/notification"
)

// Platform codes understood by the registration endpoint.
const (
	PlatformAndroid = 0
	PlatformIOS     = 1
	PlatformWeb     = 2
)

// RegisterDeviceRequest is the body of the device registration call.
type RegisterDeviceRequest struct {
	Token                       string  `json:"Token"`
	DeviceID                    string  `json:"DeviceId"`
	UserID                      *string `json:"UserId"`
	Platform                    int     `json:"Platform"`
	PreferredCity               *string `json:"PreferredCity"`
	SubscribeToSpeedUpdates     bool    `json:"SubscribeToSpeedUpdates"`
	SubscribeToEventReminders   bool    `json:"SubscribeToEventReminders"`
	SubscribeToSoldOutAlerts    bool    `json:"SubscribeToSoldOutAlerts"`
	SubscribeToFavouriteUpdates bool    `json:"SubscribeToFavouriteUpdates"`
}

// RegisterDeviceResponse is the registration reply. Servers may reply with an
// empty body; both fields are then zero.
type RegisterDeviceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GetPending fetches notifications queued for token while it had no stream.
func (c *Client) GetPending(ctx context.Context, token string) (*notification.PendingBatch, error) {
	var batch notification.PendingBatch
	if err := c.get(ctx, "/WebSocket/pending/"+url.PathEscape(token), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// RegisterDevice registers a device token with the server.
func (c *Client) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (*RegisterDeviceResponse, error) {
	var resp RegisterDeviceResponse
	if err := c.post(ctx, "/PushNotification/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
