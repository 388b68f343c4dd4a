package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "certosaurus",
		Short: "Certificate issuance and lifecycle management",
		Long:  `A CLI tool for running a small private PKI: root and intermediate CAs, TLS server certificates, and mTLS client certificates with PKCS#12 bundles.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetLevel(logrus.WarnLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "Path to the sqlite database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	// CA commands
	caCmd := &cobra.Command{
		Use:   "ca",
		Short: "Manage certificate authorities",
	}
	caCmd.AddCommand(createCACmd())
	caCmd.AddCommand(listCACmd())
	caCmd.AddCommand(deleteCACmd())
	caCmd.AddCommand(exportCACmd())

	// Server certificate commands
	certCmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage TLS server certificates",
	}
	certCmd.AddCommand(createServerCertCmd())
	certCmd.AddCommand(listServerCertsCmd())
	certCmd.AddCommand(revokeServerCertCmd())
	certCmd.AddCommand(deleteServerCertCmd())
	certCmd.AddCommand(exportServerCertCmd())

	// Client certificate commands
	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Manage mTLS client certificates",
	}
	clientCmd.AddCommand(createClientCertCmd())
	clientCmd.AddCommand(listClientCertsCmd())
	clientCmd.AddCommand(revokeClientCertCmd())
	clientCmd.AddCommand(deleteClientCertCmd())
	clientCmd.AddCommand(exportClientCertCmd())

	rootCmd.AddCommand(caCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(createTreeCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(serverCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("certosaurus version 1.0.0")
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
