package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/jobs"
	"github.com/Crosschaser/Protos/internal/registration"
	"github.com/Crosschaser/Protos/internal/tokenstore"
)

var registerFlags struct {
	city     string
	userID   string
	platform int
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device and store a new token",
	Long: `register generates a new device token, registers it with the server
together with the subscription flags from the config, and stores it.

A failed registration leaves the previously stored token untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		store, err := tokenstore.Open(ctx, cfg.TokenStore, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		opts := registrationOptions(cfg)
		if cmd.Flags().Changed("city") {
			opts.PreferredCity = registerFlags.city
		}
		if cmd.Flags().Changed("user") {
			opts.UserID = registerFlags.userID
		}
		if cmd.Flags().Changed("platform") {
			opts.Platform = registerFlags.platform
		}

		token, err := registration.Register(ctx, newAPIClient(cfg, logger), store, opts, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered device %s with token %s\n", opts.DeviceID, tokenstore.Redact(token))
		return nil
	},
}

// registrationOptions maps the device section of cfg.
func registrationOptions(cfg *config.Config) registration.Options {
	opts := registration.DefaultOptions(cfg.Device.ID)
	opts.UserID = cfg.Device.UserID
	opts.Platform = cfg.Device.Platform
	opts.PreferredCity = cfg.Device.PreferredCity

	subs := cfg.Device.Subscriptions
	opts.SpeedUpdates = config.Enabled(subs.SpeedUpdates)
	opts.EventReminders = config.Enabled(subs.EventReminders)
	opts.SoldOutAlerts = config.Enabled(subs.SoldOutAlerts)
	opts.FavouriteUpdates = config.Enabled(subs.FavouriteUpdates)
	return opts
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch pending notifications once and deliver them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := buildStack(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.close()

		res := st.fallback.Execute(cmd.Context())
		stats := st.fallback.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "poll %s: fetched=%d delivered=%d\n", res, stats.Fetched, stats.Delivered)

		if res != jobs.Success {
			return fmt.Errorf("poll finished with %s", res)
		}
		return nil
	},
}

var showFullToken bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the stored device token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := tokenstore.Open(cmd.Context(), cfg.TokenStore, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		token, err := registration.EnsureToken(cmd.Context(), store)
		if err != nil {
			return err
		}
		if !showFullToken {
			token = tokenstore.Redact(token)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerFlags.city, "city", "", "preferred city (overrides device.preferred_city)")
	registerCmd.Flags().StringVar(&registerFlags.userID, "user", "", "user id (overrides device.user_id)")
	registerCmd.Flags().IntVar(&registerFlags.platform, "platform", 0, "platform: 0 android, 1 ios, 2 web (overrides device.platform)")

	tokenCmd.Flags().BoolVar(&showFullToken, "full", false, "print the token unredacted")
}
