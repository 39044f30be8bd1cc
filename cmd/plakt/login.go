package main

import (
	"fmt"

	"github.com/amaumene/plakt/internal/services/trakt"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with Trakt using the device flow",
	RunE:  runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := trakt.NewClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	code, err := client.DeviceCode(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Open %s and enter the code: %s\n", code.VerificationURL, code.UserCode)
	fmt.Println("Waiting for authorization...")

	if _, err := client.PollDeviceToken(ctx, code.DeviceCode, code.Interval, code.ExpiresIn); err != nil {
		return err
	}

	fmt.Println("Authorized. Token saved to", cfg.TokenFile)
	return nil
}
