package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func createTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show certificate hierarchy tree",
		Long:  "Display the CA hierarchy and every issued certificate with its status",
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
				fmt.Println("No CAs found in registry.")
				return nil
			}

			serverCerts, err := svc.Store().ListServerCertificates(ctx)
			if err != nil {
				return fmt.Errorf("failed to query server certificates: %w", err)
			}
			clientCerts, err := svc.Store().ListClientCertificates(ctx)
			if err != nil {
				return fmt.Errorf("failed to query client certificates: %w", err)
			}

			t := &certTree{
				children:    map[string][]*CertificateAuthority{},
				serverCerts: map[string][]*ServerCertificate{},
				clientCerts: map[string][]*ClientCertificate{},
			}
			var roots []*CertificateAuthority
			for _, ca := range cas {
				if ca.ParentCAID == nil {
					roots = append(roots, ca)
				} else {
					t.children[*ca.ParentCAID] = append(t.children[*ca.ParentCAID], ca)
				}
			}
			for _, cert := range serverCerts {
				t.serverCerts[cert.IssuingCAID] = append(t.serverCerts[cert.IssuingCAID], cert)
			}
			for _, cert := range clientCerts {
				t.clientCerts[cert.IssuingCAID] = append(t.clientCerts[cert.IssuingCAID], cert)
			}

			fmt.Println()
			fmt.Println("Certificate Registry Tree")
			fmt.Println("=========================")
			fmt.Println("Legend: ✓ Valid  ! Expired  ✗ Revoked")
			fmt.Println()

			for _, root := range roots {
				t.printCA(root, "", true)
				fmt.Println()
			}

			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show registry counts and upcoming expirations",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}

			sum, err := svc.Summary(context.Background())
			if err != nil {
				return fmt.Errorf("failed to build summary: %w", err)
			}

			fmt.Println()
			successColor.Println("Registry Summary:")
			infoColor.Printf("  Certificate Authorities: %d\n", sum.CACount)
			infoColor.Printf("  Active server certs:     %d\n", sum.ActiveServerCerts)
			infoColor.Printf("  Active client certs:     %d\n", sum.ActiveClientCerts)
			expiring := sum.ExpiringServer + sum.ExpiringClient
			if expiring > 0 {
				warnColor.Printf("  Expiring within 30 days: %d (%d server, %d client)\n", expiring, sum.ExpiringServer, sum.ExpiringClient)
			} else {
				infoColor.Println("  Expiring within 30 days: 0")
			}
			fmt.Println()
			return nil
		},
	}
}

type certTree struct {
	children    map[string][]*CertificateAuthority
	serverCerts map[string][]*ServerCertificate
	clientCerts map[string][]*ClientCertificate
}

func (t *certTree) printCA(ca *CertificateAuthority, prefix string, isLast bool) {
	marker := "├── "
	if isLast {
		marker = "└── "
	}

	statusIcon := "✓"
	statusColor := successColor
	if !ca.IsValid() {
		statusIcon = "!"
		statusColor = warnColor
	}

	caType := "root-ca"
	if !ca.IsRoot {
		caType = "intermediate-ca"
	}

	fmt.Printf("%s%s", prefix, marker)
	statusColor.Printf("%s %s", statusIcon, ca.Name)
	fmt.Printf(" (%s)", caType)
	printExpiry(ca.ValidUntil)
	fmt.Println()

	newPrefix := prefix
	if isLast {
		newPrefix += "    "
	} else {
		newPrefix += "│   "
	}

	childCAs := t.children[ca.ID]
	servers := t.serverCerts[ca.ID]
	clients := t.clientCerts[ca.ID]
	total := len(childCAs) + len(servers) + len(clients)
	printed := 0

	for _, child := range childCAs {
		printed++
		t.printCA(child, newPrefix, printed == total)
	}
	for _, cert := range servers {
		printed++
		printLeaf(cert.Name, "server", cert.Status, cert.ValidUntil, newPrefix, printed == total)
	}
	for _, cert := range clients {
		printed++
		printLeaf(cert.Name, "client", cert.Status, cert.ValidUntil, newPrefix, printed == total)
	}
}

func printLeaf(name, kind string, status CertificateStatus, validUntil time.Time, prefix string, isLast bool) {
	marker := "├── "
	if isLast {
		marker = "└── "
	}

	statusIcon := "✓"
	statusColor := successColor
	if status == StatusRevoked {
		statusIcon = "✗"
		statusColor = errorColor
	} else if time.Now().After(validUntil) {
		statusIcon = "!"
		statusColor = warnColor
	}

	fmt.Printf("%s%s", prefix, marker)
	statusColor.Printf("%s %s", statusIcon, name)
	fmt.Printf(" (%s)", kind)
	printExpiry(validUntil)
	fmt.Println()
}

func printExpiry(validUntil time.Time) {
	daysLeft := int(time.Until(validUntil).Hours() / 24)
	msg := fmt.Sprintf("%s (%d days left)", validUntil.Format("2006-01-02"), daysLeft)

	if daysLeft < 30 && daysLeft > 0 {
		warnColor.Printf(" [Expires: %s]", msg)
	} else if daysLeft <= 0 {
		errorColor.Printf(" [Expired: %s]", msg)
	} else {
		fmt.Printf(" [Expires: %s]", msg)
	}
}
