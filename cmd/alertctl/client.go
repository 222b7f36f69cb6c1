package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func clientCMD(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage client records",
	}
	cmd.AddCommand(clientAddCMD(cfg))
	return cmd
}

func clientAddCMD(cfg func() *config.Config) *cobra.Command {
	var c models.Client

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new client",
		Long: `Insert a client directly into the configured backend and print its id,
using: client add --name NAME --phone PHONE --email EMAIL --address ADDRESS --emergency-contact CONTACT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.Validate(); err != nil {
				return err
			}
			c.Status = models.ClientStatusActive

			conf := cfg()
			db, err := repository.Open(cmd.Context(), conf.DB.Driver, conf.DB.Path, conf.DB.DSN, conf.DB.MaxConns)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.AddClient(cmd.Context(), &c); err != nil {
				return err
			}
			slog.Info("client added", "client_id", c.ID)
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.Name, "name", "", "full name")
	cmd.Flags().StringVar(&c.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&c.Email, "email", "", "email address")
	cmd.Flags().StringVar(&c.Address, "address", "", "home address")
	cmd.Flags().StringVar(&c.EmergencyContact, "emergency-contact", "", "emergency contact")
	return cmd
}
