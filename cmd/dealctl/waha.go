package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

// newMessenger sends through WAHA when it is configured and only logs otherwise
func newMessenger(a *app) services.Messenger {
	if !a.cfg.MessagingEnabled() {
		return services.NewLogMessenger(a.logger)
	}
	return services.NewWahaService(services.WahaConfig{
		BaseURL:       a.cfg.WahaBaseURL,
		APIKey:        a.cfg.WahaAPIKey,
		Session:       a.cfg.WahaSession,
		CountryCode:   a.cfg.DefaultCountryCode,
		ChannelPrefix: a.cfg.ChannelPrefix,
		Humanize:      a.cfg.WahaHumanize,
	}, nil)
}

func wahaCommand(a *app) *cobra.Command {
	wahaCmd := &cobra.Command{
		Use:   "waha",
		Short: "WhatsApp (WAHA) utilities",
	}

	var phone, msg string
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.MessagingEnabled() {
				return fmt.Errorf("WAHA_BASE_URL and WAHA_API_KEY must be set")
			}
			chatID := services.NormalizeChatID(phone, a.cfg.DefaultCountryCode, a.cfg.ChannelPrefix)
			a.logger.Infof("Sending message to %s", chatID)

			if err := newMessenger(a).SendMessage(cmd.Context(), phone, msg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Message sent successfully!")
			return nil
		},
	}
	sendCmd.Flags().StringVar(&phone, "phone", "", "phone number or sender, e.g. 919812345678 or whatsapp:+919812345678")
	sendCmd.Flags().StringVar(&msg, "msg", "Test message from dealctl", "message body")
	_ = sendCmd.MarkFlagRequired("phone")

	wahaCmd.AddCommand(sendCmd)
	return wahaCmd
}
