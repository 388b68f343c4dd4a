package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(dbInitCmd())
	cmd.AddCommand(dbStatsCmd())
	return cmd
}

func dbInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and migrate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := openService(); err != nil {
				return err
			}
			successColor.Printf("✓ Database ready at %s\n", dbPath)
			return nil
		},
	}
}

func dbStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cas, err := svc.Store().ListCAs(ctx)
			if err != nil {
				return err
			}
			serverCerts, err := svc.Store().ListServerCertificates(ctx)
			if err != nil {
				return err
			}
			clientCerts, err := svc.Store().ListClientCertificates(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Database: %s\n", dbPath)
			infoColor.Printf("  CAs:          %d\n", len(cas))
			infoColor.Printf("  Server certs: %d\n", len(serverCerts))
			infoColor.Printf("  Client certs: %d\n", len(clientCerts))
			return nil
		},
	}
}
