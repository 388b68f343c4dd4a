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

// createClientCertCmd issues a new mTLS client certificate
func createClientCertCmd() *cobra.Command {
	var batch bool
	var caName string
	var name, commonName, email, organization, country string
	var validDays, keySize int
	var withP12 bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new mTLS client certificate",
		Long:  "Issue a client certificate for mTLS authentication, optionally packaged as a PKCS#12 bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if !batch {
				if err := promptClientCertInfo(ctx, svc, &caName, &name, &commonName, &email, &organization, &country, &validDays, &keySize, &withP12); err != nil {
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

			s := newSpinner("Issuing client certificate...")
			s.Start()
			cert, err := svc.IssueClientCertificate(ctx, CreateClientCertRequest{
				Name:           name,
				CommonName:     commonName,
				Email:          email,
				Organization:   organization,
				Country:        country,
				ValidityDays:   validDays,
				KeySize:        keySize,
				CAID:           ca.ID,
				GeneratePKCS12: withP12,
			})
			s.Stop()
			if err != nil {
				errorColor.Printf("✗ Failed to issue client certificate: %v\n", err)
				return err
			}

			fmt.Println()
			successColor.Println("✓ Client certificate issued!")
			infoColor.Printf("  Name:        %s\n", cert.Name)
			infoColor.Printf("  Common Name: %s\n", cert.CommonName)
			if cert.Email != "" {
				infoColor.Printf("  Email:       %s\n", cert.Email)
			}
			infoColor.Printf("  Issuer:      %s\n", ca.Name)
			infoColor.Printf("  Expires:     %s\n", cert.ValidUntil.Format("2006-01-02"))
			infoColor.Printf("  Fingerprint: SHA256:%s...\n", cert.Fingerprint[:16])
			if withP12 {
				warnColor.Printf("  PKCS#12 password: %s\n", cert.P12Password)
				warnColor.Println("  Store this password now; it is needed to import the bundle.")
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().BoolVar(&batch, "batch", false, "Non-interactive mode")
	cmd.Flags().StringVar(&caName, "ca", "", "Issuing CA name")
	cmd.Flags().StringVar(&name, "name", "", "Registry name (defaults to the common name)")
	cmd.Flags().StringVar(&commonName, "cn", "", "Common Name")
	cmd.Flags().StringVar(&email, "email", "", "Email address (added as a SAN)")
	cmd.Flags().StringVar(&organization, "org", "", "Organization")
	cmd.Flags().StringVar(&country, "country", "US", "Country code")
	cmd.Flags().IntVar(&validDays, "days", DefaultLeafValidityDays, "Validity period in days")
	cmd.Flags().IntVar(&keySize, "key-size", DefaultLeafKeySize, "RSA key size (2048 or 4096)")
	cmd.Flags().BoolVar(&withP12, "p12", false, "Also build a password-protected PKCS#12 bundle")

	return cmd
}

// listClientCertsCmd lists issued client certificates
func listClientCertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all client certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			certs, err := svc.Store().ListClientCertificates(ctx)
			if err != nil {
				return fmt.Errorf("failed to query client certificates: %w", err)
			}

			if len(certs) == 0 {
				infoColor.Println("No client certificates found. Create one with 'certosaurus client create'")
				return nil
			}

			fmt.Println()
			successColor.Println("Client Certificates:")
			fmt.Println()

			for i, cert := range certs {
				fmt.Printf("%d. %s\n", i+1, cert.Name)
				infoColor.Printf("   ID: %s\n", cert.ID)
				infoColor.Printf("   Common Name: %s\n", cert.CommonName)
				if cert.Email != "" {
					infoColor.Printf("   Email: %s\n", cert.Email)
				}
				if len(cert.P12Bundle) > 0 {
					infoColor.Println("   PKCS#12: yes")
				}
				printLeafStatus(cert.Status, cert.RevocationReason)
				infoColor.Printf("   Expires: %s\n", cert.ValidUntil.Format("2006-01-02 15:04:05"))
				fmt.Println()
			}

			return nil
		},
	}
}

// revokeClientCertCmd revokes an active client certificate
func revokeClientCertCmd() *cobra.Command {
	var name, reason string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a client certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cert, err := findClientCertByName(ctx, svc, name)
			if err != nil {
				return err
			}

			if reason == "" {
				if err := promptRevocationReason(&reason); err != nil {
					return err
				}
			}

			revoked, err := svc.RevokeClientCertificate(ctx, cert.ID, RevocationReason(reason))
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

// deleteClientCertCmd deletes a client certificate record
func deleteClientCertCmd() *cobra.Command {
	var name string
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a client certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cert, err := findClientCertByName(ctx, svc, name)
			if err != nil {
				return err
			}

			if !yes {
				var confirm bool
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Delete certificate '%s', its private key, and any PKCS#12 bundle?", cert.Name),
				}
				if err := survey.AskOne(prompt, &confirm); err != nil {
					return err
				}
				if !confirm {
					infoColor.Println("Aborted")
					return nil
				}
			}

			if err := svc.Store().DeleteClientCertificate(ctx, cert.ID); err != nil {
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

// exportClientCertCmd writes the certificate, key, and PKCS#12 bundle to disk
func exportClientCertCmd() *cobra.Command {
	var name, outputDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a client certificate, key, and PKCS#12 bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cert, err := findClientCertByName(ctx, svc, name)
			if err != nil {
				return err
			}

			base := strings.ReplaceAll(cert.Name, " ", "_")
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			certPath := filepath.Join(outputDir, base+".crt")
			keyPath := filepath.Join(outputDir, base+".key")

			if err := os.WriteFile(certPath, []byte(cert.CertificatePEM), 0644); err != nil {
				return fmt.Errorf("failed to write certificate: %w", err)
			}
			if err := os.WriteFile(keyPath, []byte(cert.PrivateKeyPEM), 0600); err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}

			successColor.Println("✓ Client certificate exported")
			infoColor.Printf("  Certificate: %s\n", certPath)
			infoColor.Printf("  Private Key: %s (permissions: 0600)\n", keyPath)

			if len(cert.P12Bundle) > 0 {
				p12Path := filepath.Join(outputDir, base+".p12")
				if err := os.WriteFile(p12Path, cert.P12Bundle, 0600); err != nil {
					return fmt.Errorf("failed to write PKCS#12 bundle: %w", err)
				}
				infoColor.Printf("  PKCS#12:     %s (permissions: 0600)\n", p12Path)
				warnColor.Printf("  PKCS#12 password: %s\n", cert.P12Password)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Certificate name")
	cmd.Flags().StringVar(&outputDir, "output", defaultExportDir, "Output directory")
	cmd.MarkFlagRequired("name")

	return cmd
}

func findClientCertByName(ctx context.Context, svc *Service, name string) (*ClientCertificate, error) {
	certs, err := svc.Store().ListClientCertificates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query client certificates: %w", err)
	}
	for _, cert := range certs {
		if cert.Name == name {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("client certificate '%s' not found", name)
}

func promptClientCertInfo(ctx context.Context, svc *Service, caName, name, cn, email, org, country *string, days, keySize *int, withP12 *bool) error {
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
				Message: "Client Common Name:",
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
			Name: "email",
			Prompt: &survey.Input{
				Message: "Email (optional, added as a SAN):",
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
		{
			Name: "withP12",
			Prompt: &survey.Confirm{
				Message: "Build a PKCS#12 bundle?",
			},
		},
	}

	answers := struct {
		CommonName   string
		Name         string
		Email        string
		Organization string
		Country      string
		ValidDays    string
		KeySize      string
		WithP12      bool
	}{}

	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	*cn = answers.CommonName
	*name = answers.Name
	*email = answers.Email
	*org = answers.Organization
	*country = answers.Country
	*withP12 = answers.WithP12

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
