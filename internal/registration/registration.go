// Package registration registers this device with the notification server.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Crosschaser/Protos/internal/api"
	"github.com/Crosschaser/Protos/internal/tokenstore"
)

// ErrDeviceIDRequired is returned when Options.DeviceID is empty.
var ErrDeviceIDRequired = errors.New("device id is required")

// Registrar performs the registration call.
type Registrar interface {
	RegisterDevice(ctx context.Context, req api.RegisterDeviceRequest) (*api.RegisterDeviceResponse, error)
}

// Options describe the device and its subscriptions.
type Options struct {
	DeviceID      string
	UserID        string // optional
	Platform      int
	PreferredCity string // optional

	SpeedUpdates     bool
	EventReminders   bool
	SoldOutAlerts    bool
	FavouriteUpdates bool
}

// DefaultOptions subscribes deviceID to every category.
func DefaultOptions(deviceID string) Options {
	return Options{
		DeviceID:         deviceID,
		Platform:         api.PlatformAndroid,
		SpeedUpdates:     true,
		EventReminders:   true,
		SoldOutAlerts:    true,
		FavouriteUpdates: true,
	}
}

// newToken generates device tokens.
var newToken = uuid.NewString

// Register generates a fresh device token, registers it and persists it.
// The token is stored only after the server accepts the registration, so a
// failed attempt leaves any previous token in place.
func Register(ctx context.Context, reg Registrar, store tokenstore.Store, opts Options, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DeviceID == "" {
		return "", ErrDeviceIDRequired
	}

	token := newToken()
	req := api.RegisterDeviceRequest{
		Token:                       token,
		DeviceID:                    opts.DeviceID,
		UserID:                      optional(opts.UserID),
		Platform:                    opts.Platform,
		PreferredCity:               optional(opts.PreferredCity),
		SubscribeToSpeedUpdates:     opts.SpeedUpdates,
		SubscribeToEventReminders:   opts.EventReminders,
		SubscribeToSoldOutAlerts:    opts.SoldOutAlerts,
		SubscribeToFavouriteUpdates: opts.FavouriteUpdates,
	}

	log := logger.With("device_id", opts.DeviceID, "token", tokenstore.Redact(token))
	log.Debug("registering device", "preferred_city", opts.PreferredCity)

	resp, err := reg.RegisterDevice(ctx, req)
	if err != nil {
		return "", fmt.Errorf("register device: %w", err)
	}

	if err := store.Set(ctx, token); err != nil {
		return "", fmt.Errorf("save device token: %w", err)
	}

	log.Info("device registered", "message", resp.Message)
	return token, nil
}

// EnsureToken returns the persisted token, or tokenstore.ErrTokenMissing when
// the device has not been registered.
func EnsureToken(ctx context.Context, store tokenstore.Store) (string, error) {
	token, err := store.Get(ctx)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(token); err != nil {
		slog.Default().Warn("persisted device token is not a UUID", "token", tokenstore.Redact(token))
	}
	return token, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
