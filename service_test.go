package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"software.sslmate.com/src/go-pkcs12"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"), entry)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return NewService(store, entry)
}

func issueTestCA(t *testing.T, svc *Service, name, parentID string) *CertificateAuthority {
	t.Helper()
	ca, err := svc.IssueCA(context.Background(), CreateCARequest{
		Name:       name,
		CommonName: name,
		KeySize:    KeySize2048,
		ParentCAID: parentID,
	})
	if err != nil {
		t.Fatalf("Failed to issue CA %q: %v", name, err)
	}
	return ca
}

func TestIssueCA(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	t.Run("Root CA record", func(t *testing.T) {
		ca := issueTestCA(t, svc, "acme-root", "")

		if !ca.IsRoot {
			t.Error("Expected root CA")
		}
		if ca.ParentCAID != nil {
			t.Errorf("Expected no parent, got %v", *ca.ParentCAID)
		}
		if len(ca.Fingerprint) != 64 {
			t.Errorf("Expected 64 hex chars of fingerprint, got %d", len(ca.Fingerprint))
		}
		if ca.Country != "US" {
			t.Errorf("Expected default country 'US', got '%s'", ca.Country)
		}

		cert, err := LoadCertificate([]byte(ca.CertificatePEM))
		if err != nil {
			t.Fatalf("Stored certificate does not parse: %v", err)
		}
		if cert.MaxPathLen != 1 {
			t.Errorf("Expected root path length 1, got %d", cert.MaxPathLen)
		}
		if _, err := LoadPrivateKey([]byte(ca.PrivateKeyPEM), ""); err != nil {
			t.Fatalf("Stored private key does not parse: %v", err)
		}
	})

	t.Run("Duplicate names rejected", func(t *testing.T) {
		_, err := svc.IssueCA(ctx, CreateCARequest{Name: "acme-root", CommonName: "acme-root", KeySize: KeySize2048})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}
	})

	t.Run("Intermediate chains to parent", func(t *testing.T) {
		root, err := svc.Store().GetCAByName(ctx, "acme-root")
		if err != nil {
			t.Fatalf("Failed to load root: %v", err)
		}
		inter := issueTestCA(t, svc, "acme-intermediate", root.ID)

		if inter.IsRoot {
			t.Error("Expected intermediate, got root")
		}
		if inter.ParentCAID == nil || *inter.ParentCAID != root.ID {
			t.Error("Expected parent link to root")
		}

		rootCert, err := LoadCertificate([]byte(root.CertificatePEM))
		if err != nil {
			t.Fatalf("Failed to parse root certificate: %v", err)
		}
		interCert, err := LoadCertificate([]byte(inter.CertificatePEM))
		if err != nil {
			t.Fatalf("Failed to parse intermediate certificate: %v", err)
		}
		if err := interCert.CheckSignatureFrom(rootCert); err != nil {
			t.Errorf("Intermediate not signed by root: %v", err)
		}
		if !interCert.MaxPathLenZero {
			t.Error("Expected intermediate path length zero")
		}
	})

	t.Run("Unknown parent", func(t *testing.T) {
		_, err := svc.IssueCA(ctx, CreateCARequest{
			Name:       "orphan",
			CommonName: "orphan",
			KeySize:    KeySize2048,
			ParentCAID: "no-such-id",
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Rejected request leaves no record", func(t *testing.T) {
		before, err := svc.Store().ListCAs(ctx)
		if err != nil {
			t.Fatalf("Failed to list CAs: %v", err)
		}

		_, err = svc.IssueCA(ctx, CreateCARequest{Name: "bad", CommonName: "bad", Country: "USA", KeySize: KeySize2048})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected ErrValidation for 3-letter country, got %v", err)
		}
		_, err = svc.IssueCA(ctx, CreateCARequest{Name: "bad2", CommonName: "bad2", ValidityDays: MaxCAValidityDays + 1, KeySize: KeySize2048})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected ErrValidation for oversized validity, got %v", err)
		}

		after, err := svc.Store().ListCAs(ctx)
		if err != nil {
			t.Fatalf("Failed to list CAs: %v", err)
		}
		if len(after) != len(before) {
			t.Errorf("Expected %d CAs after rejected requests, got %d", len(before), len(after))
		}
	})
}

func TestIssueServerCertificate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root := issueTestCA(t, svc, "server-root", "")
	inter := issueTestCA(t, svc, "server-intermediate", root.ID)

	t.Run("Issued record", func(t *testing.T) {
		cert, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
			Name:        "web",
			CommonName:  "web.internal",
			DNSNames:    []string{"web.internal", "www.internal"},
			IPAddresses: []string{"10.0.0.5"},
			KeySize:     KeySize2048,
			CAID:        inter.ID,
		})
		if err != nil {
			t.Fatalf("Failed to issue server certificate: %v", err)
		}

		if cert.Status != StatusActive {
			t.Errorf("Expected active status, got %s", cert.Status)
		}
		if !cert.IsValid() {
			t.Error("Expected freshly issued certificate to be valid")
		}
		if cert.SANDNSNames != "web.internal,www.internal" {
			t.Errorf("Unexpected DNS SAN column: %q", cert.SANDNSNames)
		}

		// Chain is leaf first, then the issuing CA.
		if cert.CertificateChainPEM != cert.CertificatePEM+inter.CertificatePEM {
			t.Error("Chain PEM is not leaf followed by issuing CA")
		}
		block, rest := pem.Decode([]byte(cert.CertificateChainPEM))
		if block == nil {
			t.Fatal("Chain has no PEM blocks")
		}
		second, _ := pem.Decode(rest)
		if second == nil {
			t.Fatal("Chain is missing the CA certificate")
		}

		leaf, err := LoadCertificate([]byte(cert.CertificatePEM))
		if err != nil {
			t.Fatalf("Stored leaf does not parse: %v", err)
		}
		interCert, err := LoadCertificate([]byte(inter.CertificatePEM))
		if err != nil {
			t.Fatalf("Failed to parse intermediate: %v", err)
		}
		if err := leaf.CheckSignatureFrom(interCert); err != nil {
			t.Errorf("Leaf not signed by requested CA: %v", err)
		}
	})

	t.Run("Full chain verifies to root", func(t *testing.T) {
		cert, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
			Name:       "chained",
			CommonName: "chained.internal",
			KeySize:    KeySize2048,
			CAID:       inter.ID,
		})
		if err != nil {
			t.Fatalf("Failed to issue server certificate: %v", err)
		}

		leaf, err := LoadCertificate([]byte(cert.CertificatePEM))
		if err != nil {
			t.Fatalf("Stored leaf does not parse: %v", err)
		}
		rootCert, _ := LoadCertificate([]byte(root.CertificatePEM))
		interCert, _ := LoadCertificate([]byte(inter.CertificatePEM))

		roots := x509.NewCertPool()
		roots.AddCert(rootCert)
		inters := x509.NewCertPool()
		inters.AddCert(interCert)

		if _, err := leaf.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: inters,
			DNSName:       "chained.internal",
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}); err != nil {
			t.Errorf("Chain verification failed: %v", err)
		}
	})

	t.Run("Unknown CA", func(t *testing.T) {
		_, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
			Name:       "nowhere",
			CommonName: "nowhere.internal",
			KeySize:    KeySize2048,
			CAID:       "missing",
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Invalid IP SAN leaves no record", func(t *testing.T) {
		before, _ := svc.Store().ListServerCertificates(ctx)

		_, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
			Name:        "badip",
			CommonName:  "badip.internal",
			IPAddresses: []string{"300.300.300.300"},
			KeySize:     KeySize2048,
			CAID:        inter.ID,
		})
		if !errors.Is(err, ErrInvalidSAN) {
			t.Errorf("Expected ErrInvalidSAN, got %v", err)
		}

		after, _ := svc.Store().ListServerCertificates(ctx)
		if len(after) != len(before) {
			t.Errorf("Expected %d certificates after rejected request, got %d", len(before), len(after))
		}
	})
}

func TestIssueClientCertificate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ca := issueTestCA(t, svc, "client-ca", "")

	t.Run("With PKCS#12 bundle", func(t *testing.T) {
		cert, err := svc.IssueClientCertificate(ctx, CreateClientCertRequest{
			Name:           "alice",
			CommonName:     "alice",
			Email:          "alice@example.com",
			KeySize:        KeySize2048,
			CAID:           ca.ID,
			GeneratePKCS12: true,
		})
		if err != nil {
			t.Fatalf("Failed to issue client certificate: %v", err)
		}

		if len(cert.P12Bundle) == 0 {
			t.Fatal("Expected a PKCS#12 bundle")
		}
		if cert.P12Password == "" {
			t.Fatal("Expected a generated bundle password")
		}

		key, decoded, caCerts, err := pkcs12.DecodeChain(cert.P12Bundle, cert.P12Password)
		if err != nil {
			t.Fatalf("Bundle does not decode with stored password: %v", err)
		}
		if decoded.Subject.CommonName != "alice" {
			t.Errorf("Expected CN 'alice', got '%s'", decoded.Subject.CommonName)
		}
		if len(decoded.EmailAddresses) != 1 || decoded.EmailAddresses[0] != "alice@example.com" {
			t.Errorf("Expected email SAN in bundled certificate, got %v", decoded.EmailAddresses)
		}
		if len(caCerts) != 1 {
			t.Errorf("Expected issuing CA in bundle, got %d certs", len(caCerts))
		}

		storedKey, err := LoadPrivateKey([]byte(cert.PrivateKeyPEM), "")
		if err != nil {
			t.Fatalf("Stored private key does not parse: %v", err)
		}
		if !key.(*rsa.PrivateKey).Equal(storedKey) {
			t.Error("Bundle key does not match stored key")
		}

		if _, _, _, err := pkcs12.DecodeChain(cert.P12Bundle, "not-the-password"); err == nil {
			t.Error("Expected decode to fail with wrong password")
		}
	})

	t.Run("Without bundle", func(t *testing.T) {
		cert, err := svc.IssueClientCertificate(ctx, CreateClientCertRequest{
			Name:       "bob",
			CommonName: "bob",
			KeySize:    KeySize2048,
			CAID:       ca.ID,
		})
		if err != nil {
			t.Fatalf("Failed to issue client certificate: %v", err)
		}
		if len(cert.P12Bundle) != 0 || cert.P12Password != "" {
			t.Error("Expected no bundle material")
		}
	})

	t.Run("Invalid email rejected", func(t *testing.T) {
		_, err := svc.IssueClientCertificate(ctx, CreateClientCertRequest{
			Name:       "bad",
			CommonName: "bad",
			Email:      "not-an-email",
			KeySize:    KeySize2048,
			CAID:       ca.ID,
		})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}
	})
}
