package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/config"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAdminCommand() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	var email, password string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return createAdmin(cmd.Context(), cmd, email, password)
		},
	}
	createCmd.Flags().StringVar(&email, "email", "", "Administrator email")
	createCmd.Flags().StringVar(&password, "password", "", "Administrator password")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")

	adminCmd.AddCommand(createCmd)
	return adminCmd
}

func createAdmin(ctx context.Context, cmd *cobra.Command, email, password string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openIdentityStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hasher, err := auth.NewHasher(auth.HasherConfig{Cost: appConfig.HashCost, Concurrency: appConfig.HashConcurrency})
	if err != nil {
		return err
	}
	admins, err := users.NewAdminService(users.AdminServiceConfig{Store: store, Hasher: hasher, Logger: logger})
	if err != nil {
		return err
	}

	admin, err := admins.Register(ctx, email, password)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(admin)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return err
}
