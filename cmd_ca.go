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

// createCACmd creates a new root or intermediate CA
func createCACmd() *cobra.Command {
	var batch bool
	var caType string // "root" or "intermediate"
	var parentName string
	var name, commonName, organization, country string
	var validDays, keySize int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new root or intermediate CA",
		Long:  "Interactively create a new self-signed root CA or a parent-signed intermediate CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if !batch {
				if err := promptCAInfo(ctx, svc, &caType, &parentName, &name, &commonName, &organization, &country, &validDays, &keySize); err != nil {
					return err
				}
			}

			if name == "" {
				name = commonName
			}
			if caType == "intermediate" && parentName == "" {
				return fmt.Errorf("parent CA is required for intermediate CA")
			}

			req := CreateCARequest{
				Name:         name,
				CommonName:   commonName,
				Organization: organization,
				Country:      country,
				ValidityDays: validDays,
				KeySize:      keySize,
			}
			if caType == "intermediate" {
				parent, err := svc.Store().GetCAByName(ctx, parentName)
				if err != nil {
					return fmt.Errorf("parent CA '%s' not found: %w", parentName, err)
				}
				req.ParentCAID = parent.ID
			}

			s := newSpinner("Generating CA...")
			s.Start()
			ca, err := svc.IssueCA(ctx, req)
			s.Stop()
			if err != nil {
				errorColor.Printf("✗ Failed to generate CA: %v\n", err)
				return err
			}

			fmt.Println()
			successColor.Printf("✓ %s CA created successfully!\n", caType)
			infoColor.Printf("  Name:        %s\n", ca.Name)
			infoColor.Printf("  Common Name: %s\n", ca.CommonName)
			infoColor.Printf("  Key Size:    %d\n", ca.KeySize)
			infoColor.Printf("  Expires:     %s\n", ca.ValidUntil.Format("2006-01-02"))
			infoColor.Printf("  Fingerprint: SHA256:%s...\n", ca.Fingerprint[:16])
			if !ca.IsRoot {
				infoColor.Printf("  Issuer:      %s\n", parentName)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().BoolVar(&batch, "batch", false, "Non-interactive mode")
	cmd.Flags().StringVar(&caType, "type", "root", "CA type (root, intermediate)")
	cmd.Flags().StringVar(&parentName, "parent", "", "Parent CA name (required for intermediate)")
	cmd.Flags().StringVar(&name, "name", "", "Registry name (defaults to the common name)")
	cmd.Flags().StringVar(&commonName, "cn", "", "Common Name")
	cmd.Flags().StringVar(&organization, "org", "", "Organization")
	cmd.Flags().StringVar(&country, "country", "US", "Country code")
	cmd.Flags().IntVar(&validDays, "days", DefaultCAValidityDays, "Validity period in days")
	cmd.Flags().IntVar(&keySize, "key-size", DefaultCAKeySize, "RSA key size (2048 or 4096)")

	return cmd
}

// listCACmd lists all CAs in the registry
func listCACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all certificate authorities",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			cas, err := svc.Store().ListCAs(ctx)
			if err != nil {
				return fmt.Errorf("failed to query CAs: %w", err)
			}

			if len(cas) == 0 {
				infoColor.Println("No CAs found. Create one with 'certosaurus ca create'")
				return nil
			}

			byID := make(map[string]*CertificateAuthority, len(cas))
			for _, ca := range cas {
				byID[ca.ID] = ca
			}

			fmt.Println()
			successColor.Println("Certificate Authorities:")
			fmt.Println()

			for i, ca := range cas {
				caType := "root"
				if !ca.IsRoot {
					caType = "intermediate"
				}
				fmt.Printf("%d. %s\n", i+1, ca.Name)
				infoColor.Printf("   ID: %s\n", ca.ID)
				infoColor.Printf("   Type: %s\n", caType)
				if ca.ParentCAID != nil {
					if parent, ok := byID[*ca.ParentCAID]; ok {
						infoColor.Printf("   Issuer: %s\n", parent.Name)
					}
				}
				infoColor.Printf("   Common Name: %s\n", ca.CommonName)
				infoColor.Printf("   Key Size: %d\n", ca.KeySize)
				infoColor.Printf("   Created: %s\n", ca.CreatedAt.Format("2006-01-02 15:04:05"))
				infoColor.Printf("   Expires: %s (%d days left)\n", ca.ValidUntil.Format("2006-01-02 15:04:05"), ca.DaysUntilExpiry())
				fmt.Println()
			}

			return nil
		},
	}
}

// deleteCACmd deletes a CA with no remaining dependents
func deleteCACmd() *cobra.Command {
	var name string
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a certificate authority",
		Long:  "Delete a CA and its key material. Refused while any issued certificate or child CA still references it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			ca, err := svc.Store().GetCAByName(ctx, name)
			if err != nil {
				return fmt.Errorf("CA '%s' not found: %w", name, err)
			}

			if !yes {
				var confirm bool
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Delete CA '%s' and its private key?", ca.Name),
				}
				if err := survey.AskOne(prompt, &confirm); err != nil {
					return err
				}
				if !confirm {
					infoColor.Println("Aborted")
					return nil
				}
			}

			if err := svc.DeleteCA(ctx, ca.ID); err != nil {
				errorColor.Printf("✗ %v\n", err)
				return err
			}

			successColor.Printf("✓ CA '%s' deleted\n", ca.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "CA name")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation")
	cmd.MarkFlagRequired("name")

	return cmd
}

// exportCACmd writes a CA certificate (and optionally its key) to disk
func exportCACmd() *cobra.Command {
	var name, outputDir string
	var withKey bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a CA certificate to PEM files",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx := context.Background()

			ca, err := svc.Store().GetCAByName(ctx, name)
			if err != nil {
				return fmt.Errorf("CA '%s' not found: %w", name, err)
			}

			base := strings.ReplaceAll(ca.Name, " ", "_")
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			certPath := filepath.Join(outputDir, base+".crt")
			if err := os.WriteFile(certPath, []byte(ca.CertificatePEM), 0644); err != nil {
				return fmt.Errorf("failed to write certificate: %w", err)
			}
			successColor.Printf("✓ Certificate written to %s\n", certPath)

			if withKey {
				keyPath := filepath.Join(outputDir, base+".key")
				if err := os.WriteFile(keyPath, []byte(ca.PrivateKeyPEM), 0600); err != nil {
					return fmt.Errorf("failed to write private key: %w", err)
				}
				successColor.Printf("✓ Private key written to %s (permissions: 0600)\n", keyPath)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "CA name")
	cmd.Flags().StringVar(&outputDir, "output", defaultExportDir, "Output directory")
	cmd.Flags().BoolVar(&withKey, "with-key", false, "Also export the private key")
	cmd.MarkFlagRequired("name")

	return cmd
}

func promptCAInfo(ctx context.Context, svc *Service, caType, parentName, name, cn, org, country *string, days, keySize *int) error {
	typePrompt := &survey.Select{
		Message: "CA Type:",
		Options: []string{"Root CA", "Intermediate CA"},
		Default: "Root CA",
	}
	var typeAns string
	if err := survey.AskOne(typePrompt, &typeAns); err != nil {
		return err
	}
	if typeAns == "Root CA" {
		*caType = "root"
	} else {
		*caType = "intermediate"
	}

	if *caType == "intermediate" {
		cas, err := svc.Store().ListCAs(ctx)
		if err != nil {
			return fmt.Errorf("failed to load CAs: %w", err)
		}
		if len(cas) == 0 {
			return fmt.Errorf("no CAs found in registry. Please create a root CA first")
		}

		var caOptions []string
		for _, ca := range cas {
			if ca.IsRoot {
				caOptions = append(caOptions, ca.Name)
			}
		}
		if len(caOptions) == 0 {
			return fmt.Errorf("no root CAs available to sign an intermediate")
		}

		parentPrompt := &survey.Select{
			Message: "Parent CA:",
			Options: caOptions,
		}
		if err := survey.AskOne(parentPrompt, parentName); err != nil {
			return err
		}
	}

	questions := []*survey.Question{
		{
			Name: "commonName",
			Prompt: &survey.Input{
				Message: "CA Common Name:",
				Default: "My Company CA",
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
				Default: fmt.Sprintf("%d", DefaultCAValidityDays),
			},
		},
		{
			Name: "keySize",
			Prompt: &survey.Select{
				Message: "Key Size:",
				Options: []string{"4096", "2048"},
				Default: "4096",
			},
		},
	}

	answers := struct {
		CommonName   string
		Name         string
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

	fmt.Sscanf(answers.ValidDays, "%d", days)
	if *days <= 0 {
		*days = DefaultCAValidityDays
	}
	fmt.Sscanf(answers.KeySize, "%d", keySize)
	if *keySize <= 0 {
		*keySize = DefaultCAKeySize
	}

	return nil
}
