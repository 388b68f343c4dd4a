package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// createServerCertCmd issues a new TLS server certificate
func createServerCertCmd() *cobra.Command {
	var batch bool
	var caName string
	var name, commonName, organization, country string
	var dnsNames, ipAddresses []string
	var validDays, keySize int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new TLS server certificate",
		Long:  "Issue a server certificate with DNS and IP subject alternative names, signed by a registered CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if !batch {
				if err := promptServerCertInfo(ctx, svc, &caName, &name, &commonName, &organization, &country, &dnsNames, &ipAddresses, &validDays, &keySize); err != nil {
					return err
				}
			}

			if name == "" {
				name = commonName
			}
			if caName == "" {
				return fmt.Errorf("issuing CA is required")
			}

			ca, err := svc.Store().GetCAByName(ctx, caName)
			if err != nil {
				return fmt.Errorf("CA '%s' not found: %w", caName, err)
			}

			s := newSpinner("Issuing server certificate...")
			s.Start()
			cert, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
				Name:         name,
				CommonName:   commonName,
				DNSNames:     dnsNames,
				IPAddresses:  ipAddresses,
				Organization: organization,
				Country:      country,
				ValidityDays: validDays,
				KeySize:      keySize,
				CAID:         ca.ID,
			})
			s.Stop()
			if err != nil {
				errorColor.Printf("✗ Failed to issue server certificate: %v\n", err)
				return err
			}

			fmt.Println()
			successColor.Println("✓ Server certificate issued!")
			infoColor.Printf("  Name:        %s\n", cert.Name)
			infoColor.Printf("  Common Name: %s\n", cert.CommonName)
			if cert.SANDNSNames != "" {
				infoColor.Printf("  DNS SANs:    %s\n", cert.SANDNSNames)
			}
			if cert.SANIPAddresses != "" {
				infoColor.Printf("  IP SANs:     %s\n", cert.SANIPAddresses)
			}
			infoColor.Printf("  Issuer:      %s\n", ca.Name)
			infoColor.Printf("  Expires:     %s\n", cert.ValidUntil.Format("2006-01-02"))
			infoColor.Printf("  Fingerprint: SHA256:%s...\n", cert.Fingerprint[:16])
			fmt.Println()
			infoColor.Printf("Export the files with 'certosaurus cert export --name %s'\n", cert.Name)
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().BoolVar(&batch, "batch", false, "Non-interactive mode")
	cmd.Flags().StringVar(&caName, "ca", "", "Issuing CA name")
	cmd.Flags().StringVar(&name, "name", "", "Registry name (defaults to the common name)")
	cmd.Flags().StringVar(&commonName, "cn", "", "Common Name")
	cmd.Flags().StringSliceVar(&dnsNames, "dns", nil, "DNS subject alternative names")
	cmd.Flags().StringSliceVar(&ipAddresses, "ip", nil, "IP subject alternative names")
	cmd.Flags().StringVar(&organization, "org", "", "Organization")
	cmd.Flags().StringVar(&country, "country", "US", "Country code")
	cmd.Flags().IntVar(&validDays, "days", DefaultLeafValidityDays, "Validity period in days")
	cmd.Flags().IntVar(&keySize, "key-size", DefaultLeafKeySize, "RSA key size (2048 or 4096)")

	return cmd
}

// listServerCertsCmd lists issued server certificates
func listServerCertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all server certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			certs, err := svc.Store().ListServerCertificates(ctx)
			if err != nil {
				return fmt.Errorf("failed to query server certificates: %w", err)
			}

			if len(certs) == 0 {
				infoColor.Println("No server certificates found. Create one with 'certosaurus cert create'")
				return nil
			}

			fmt.Println()
			successColor.Println("Server Certificates:")
			fmt.Println()

			for i, cert := range certs {
				fmt.Printf("%d. %s\n", i+1, cert.Name)
				infoColor.Printf("   ID: %s\n", cert.ID)
				infoColor.Printf("   Common Name: %s\n", cert.CommonName)
				if cert.SANDNSNames != "" {
					infoColor.Printf("   DNS SANs: %s\n", cert.SANDNSNames)
				}
				if cert.SANIPAddresses != "" {
					infoColor.Printf("   IP SANs: %s\n", cert.SANIPAddresses)
				}
				printLeafStatus(cert.Status, cert.RevocationReason)
				infoColor.Printf("   Expires: %s\n", cert.ValidUntil.Format("2006-01-02 15:04:05"))
				fmt.Println()
			}

			return nil
		},
	}
}

// revokeServerCertCmd revokes an active server certificate
func revokeServerCertCmd() *cobra.Command {
	var name, reason string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a server certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cert, err := findServerCertByName(ctx, svc, name)
			if err != nil {
				return err
			}

			if reason == "" {
				if err := promptRevocationReason(&reason); err != nil {
					return err
				}
			}

			revoked, err := svc.RevokeServerCertificate(ctx, cert.ID, RevocationReason(reason))
			if err != nil {
				errorColor.Printf("✗ %v\n", err)
				return err
			}

			successColor.Printf("✓ Certificate '%s' revoked (%s)\n", revoked.Name, revoked.RevocationReason)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Certificate name")
	cmd.Flags().StringVar(&reason, "reason", "", "Revocation reason (unspecified, key_compromise, ca_compromise, affiliation_changed, superseded, cessation_of_operation)")
	cmd.MarkFlagRequired("name")

	return cmd
}

// deleteServerCertCmd deletes a server certificate record
func deleteServerCertCmd() *cobra.Command {
	var name string
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a server certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cert, err := findServerCertByName(ctx, svc, name)
			if err != nil {
				return err
			}

			if !yes {
				var confirm bool
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Delete certificate '%s' and its private key?", cert.Name),
				}
				if err := survey.AskOne(prompt, &confirm); err != nil {
					return err
				}
				if !confirm {
					infoColor.Println("Aborted")
					return nil
				}
			}

			if err := svc.Store().DeleteServerCertificate(ctx, cert.ID); err != nil {
				return err
			}

			successColor.Printf("✓ Certificate '%s' deleted\n", cert.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Certificate name")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation")
	cmd.MarkFlagRequired("name")

	return cmd
}

// exportServerCertCmd writes the certificate, key, and full chain to disk
func exportServerCertCmd() *cobra.Command {
	var name, outputDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a server certificate, key, and chain to PEM files",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cert, err := findServerCertByName(ctx, svc, name)
			if err != nil {
				return err
			}

			base := strings.ReplaceAll(cert.Name, " ", "_")
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			certPath := filepath.Join(outputDir, base+".crt")
			keyPath := filepath.Join(outputDir, base+".key")
			chainPath := filepath.Join(outputDir, base+"-fullchain.crt")

			if err := os.WriteFile(certPath, []byte(cert.CertificatePEM), 0644); err != nil {
				return fmt.Errorf("failed to write certificate: %w", err)
			}
			if err := os.WriteFile(keyPath, []byte(cert.PrivateKeyPEM), 0600); err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}
			if err := os.WriteFile(chainPath, []byte(cert.CertificateChainPEM), 0644); err != nil {
				return fmt.Errorf("failed to write chain: %w", err)
			}

			successColor.Println("✓ Server certificate exported")
			infoColor.Printf("  Certificate: %s\n", certPath)
			infoColor.Printf("  Private Key: %s (permissions: 0600)\n", keyPath)
			infoColor.Printf("  Full Chain:  %s\n", chainPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Certificate name")
	cmd.Flags().StringVar(&outputDir, "output", defaultExportDir, "Output directory")
	cmd.MarkFlagRequired("name")

	return cmd
}

func findServerCertByName(ctx context.Context, svc *Service, name string) (*ServerCertificate, error) {
	certs, err := svc.Store().ListServerCertificates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query server certificates: %w", err)
	}
	for _, cert := range certs {
		if cert.Name == name {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("server certificate '%s' not found", name)
}

func printLeafStatus(status CertificateStatus, reason RevocationReason) {
	switch status {
	case StatusRevoked:
		errorColor.Printf("   Status: revoked (%s)\n", reason)
	case StatusActive:
		infoColor.Println("   Status: active")
	default:
		warnColor.Printf("   Status: %s\n", status)
	}
}

func promptRevocationReason(reason *string) error {
	options := make([]string, len(RevocationReasons))
	for i, r := range RevocationReasons {
		options[i] = string(r)
	}
	prompt := &survey.Select{
		Message: "Revocation reason:",
		Options: options,
		Default: string(ReasonUnspecified),
	}
	return survey.AskOne(prompt, reason)
}

func promptServerCertInfo(ctx context.Context, svc *Service, caName, name, cn, org, country *string, dnsNames, ipAddresses *[]string, days, keySize *int) error {
	cas, err := svc.Store().ListCAs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load CAs: %w", err)
	}
	if len(cas) == 0 {
		return fmt.Errorf("no CAs found in registry. Please create a CA first")
	}

	caOptions := make([]string, len(cas))
	for i, ca := range cas {
		caOptions[i] = ca.Name
	}

	caPrompt := &survey.Select{
		Message: "Issuing CA:",
		Options: caOptions,
	}
	if err := survey.AskOne(caPrompt, caName); err != nil {
		return err
	}

	questions := []*survey.Question{
		{
			Name: "commonName",
			Prompt: &survey.Input{
				Message: "Server Common Name:",
				Default: "localhost",
			},
			Validate: survey.Required,
		},
		{
			Name: "name",
			Prompt: &survey.Input{
				Message: "Registry name (blank = common name):",
			},
		},
		{
			Name: "dnsNames",
			Prompt: &survey.Input{
				Message: "DNS SANs (comma separated, optional):",
			},
		},
		{
			Name: "ipAddresses",
			Prompt: &survey.Input{
				Message: "IP SANs (comma separated, optional):",
			},
		},
		{
			Name: "organization",
			Prompt: &survey.Input{
				Message: "Organization (optional):",
			},
		},
		{
			Name: "country",
			Prompt: &survey.Input{
				Message: "Country Code:",
				Default: "US",
			},
		},
		{
			Name: "validDays",
			Prompt: &survey.Input{
				Message: "Valid Days:",
				Default: fmt.Sprintf("%d", DefaultLeafValidityDays),
			},
		},
		{
			Name: "keySize",
			Prompt: &survey.Select{
				Message: "Key Size:",
				Options: []string{"2048", "4096"},
				Default: "2048",
			},
		},
	}

	answers := struct {
		CommonName   string
		Name         string
		DnsNames     string
		IpAddresses  string
		Organization string
		Country      string
		ValidDays    string
		KeySize      string
	}{}

	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	*cn = answers.CommonName
	*name = answers.Name
	*org = answers.Organization
	*country = answers.Country
	*dnsNames = splitCommaList(answers.DnsNames)
	*ipAddresses = splitCommaList(answers.IpAddresses)

	fmt.Sscanf(answers.ValidDays, "%d", days)
	if *days <= 0 {
		*days = DefaultLeafValidityDays
	}
	fmt.Sscanf(answers.KeySize, "%d", keySize)
	if *keySize <= 0 {
		*keySize = DefaultLeafKeySize
	}

	return nil
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
