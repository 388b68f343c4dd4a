package main

import (
	"context"
	"errors"
	"testing"
)

func TestRevocation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ca := issueTestCA(t, svc, "revoke-ca", "")

	serverCert, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
		Name:       "revocable",
		CommonName: "revocable.internal",
		KeySize:    KeySize2048,
		CAID:       ca.ID,
	})
	if err != nil {
		t.Fatalf("Failed to issue server certificate: %v", err)
	}

	t.Run("Active to revoked", func(t *testing.T) {
		revoked, err := svc.RevokeServerCertificate(ctx, serverCert.ID, ReasonKeyCompromise)
		if err != nil {
			t.Fatalf("Failed to revoke: %v", err)
		}

		if revoked.Status != StatusRevoked {
			t.Errorf("Expected revoked status, got %s", revoked.Status)
		}
		if revoked.RevokedAt == nil {
			t.Error("Expected RevokedAt to be stamped")
		}
		if revoked.RevocationReason != ReasonKeyCompromise {
			t.Errorf("Expected key_compromise, got %s", revoked.RevocationReason)
		}
		if revoked.IsValid() {
			t.Error("Revoked certificate must not be valid")
		}
	})

	t.Run("Revocation is terminal", func(t *testing.T) {
		before, err := svc.Store().GetServerCertificate(ctx, serverCert.ID)
		if err != nil {
			t.Fatalf("Failed to reload certificate: %v", err)
		}

		_, err = svc.RevokeServerCertificate(ctx, serverCert.ID, ReasonSuperseded)
		if !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}

		after, err := svc.Store().GetServerCertificate(ctx, serverCert.ID)
		if err != nil {
			t.Fatalf("Failed to reload certificate: %v", err)
		}
		if after.RevocationReason != before.RevocationReason {
			t.Error("Second revoke attempt must not change the recorded reason")
		}
		if !after.RevokedAt.Equal(*before.RevokedAt) {
			t.Error("Second revoke attempt must not change the recorded time")
		}
	})

	t.Run("Unknown reason rejected", func(t *testing.T) {
		other, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
			Name:       "other",
			CommonName: "other.internal",
			KeySize:    KeySize2048,
			CAID:       ca.ID,
		})
		if err != nil {
			t.Fatalf("Failed to issue server certificate: %v", err)
		}

		_, err = svc.Store().RevokeServerCertificate(ctx, other.ID, "because")
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}

		reloaded, _ := svc.Store().GetServerCertificate(ctx, other.ID)
		if reloaded.Status != StatusActive {
			t.Errorf("Expected certificate to stay active, got %s", reloaded.Status)
		}
	})

	t.Run("Missing certificate", func(t *testing.T) {
		_, err := svc.RevokeServerCertificate(ctx, "no-such-id", ReasonUnspecified)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Client certificate revocation", func(t *testing.T) {
		clientCert, err := svc.IssueClientCertificate(ctx, CreateClientCertRequest{
			Name:       "revocable-client",
			CommonName: "revocable-client",
			KeySize:    KeySize2048,
			CAID:       ca.ID,
		})
		if err != nil {
			t.Fatalf("Failed to issue client certificate: %v", err)
		}

		revoked, err := svc.RevokeClientCertificate(ctx, clientCert.ID, ReasonCessationOfOperation)
		if err != nil {
			t.Fatalf("Failed to revoke: %v", err)
		}
		if revoked.Status != StatusRevoked || revoked.RevokedAt == nil {
			t.Error("Expected revoked client with a stamped time")
		}

		if _, err := svc.RevokeClientCertificate(ctx, clientCert.ID, ReasonUnspecified); !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})
}

func TestDeleteCA(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root := issueTestCA(t, svc, "delete-root", "")
	inter := issueTestCA(t, svc, "delete-intermediate", root.ID)

	serverCert, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
		Name:       "dependent",
		CommonName: "dependent.internal",
		KeySize:    KeySize2048,
		CAID:       inter.ID,
	})
	if err != nil {
		t.Fatalf("Failed to issue server certificate: %v", err)
	}
	clientCert, err := svc.IssueClientCertificate(ctx, CreateClientCertRequest{
		Name:       "dependent-client",
		CommonName: "dependent-client",
		KeySize:    KeySize2048,
		CAID:       inter.ID,
	})
	if err != nil {
		t.Fatalf("Failed to issue client certificate: %v", err)
	}

	t.Run("Blocked while leaves exist", func(t *testing.T) {
		if err := svc.DeleteCA(ctx, inter.ID); !errors.Is(err, ErrDependencyExists) {
			t.Errorf("Expected ErrDependencyExists, got %v", err)
		}
		// Record survives the refused delete.
		if _, err := svc.Store().GetCA(ctx, inter.ID); err != nil {
			t.Errorf("CA should still exist: %v", err)
		}
	})

	t.Run("Blocked while child CAs exist", func(t *testing.T) {
		if err := svc.DeleteCA(ctx, root.ID); !errors.Is(err, ErrDependencyExists) {
			t.Errorf("Expected ErrDependencyExists, got %v", err)
		}
	})

	t.Run("Allowed once dependents are gone", func(t *testing.T) {
		if err := svc.Store().DeleteServerCertificate(ctx, serverCert.ID); err != nil {
			t.Fatalf("Failed to delete server certificate: %v", err)
		}
		if err := svc.Store().DeleteClientCertificate(ctx, clientCert.ID); err != nil {
			t.Fatalf("Failed to delete client certificate: %v", err)
		}

		if err := svc.DeleteCA(ctx, inter.ID); err != nil {
			t.Fatalf("Expected delete to succeed, got %v", err)
		}
		if _, err := svc.Store().GetCA(ctx, inter.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}

		if err := svc.DeleteCA(ctx, root.ID); err != nil {
			t.Fatalf("Expected root delete to succeed, got %v", err)
		}
	})

	t.Run("Missing CA", func(t *testing.T) {
		if err := svc.DeleteCA(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteLeafCertificates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ca := issueTestCA(t, svc, "leaf-delete-ca", "")

	serverCert, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
		Name:       "short-lived",
		CommonName: "short-lived.internal",
		KeySize:    KeySize2048,
		CAID:       ca.ID,
	})
	if err != nil {
		t.Fatalf("Failed to issue server certificate: %v", err)
	}

	if err := svc.Store().DeleteServerCertificate(ctx, serverCert.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := svc.Store().GetServerCertificate(ctx, serverCert.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Store().DeleteServerCertificate(ctx, serverCert.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double delete, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ca := issueTestCA(t, svc, "summary-ca", "")

	for _, name := range []string{"one", "two"} {
		if _, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
			Name:       name,
			CommonName: name + ".internal",
			KeySize:    KeySize2048,
			CAID:       ca.ID,
		}); err != nil {
			t.Fatalf("Failed to issue server certificate: %v", err)
		}
	}
	clientCert, err := svc.IssueClientCertificate(ctx, CreateClientCertRequest{
		Name:       "summary-client",
		CommonName: "summary-client",
		KeySize:    KeySize2048,
		CAID:       ca.ID,
	})
	if err != nil {
		t.Fatalf("Failed to issue client certificate: %v", err)
	}

	// Certificates expiring within the 30 day window.
	if _, err := svc.IssueServerCertificate(ctx, CreateServerCertRequest{
		Name:         "expiring",
		CommonName:   "expiring.internal",
		ValidityDays: 7,
		KeySize:      KeySize2048,
		CAID:         ca.ID,
	}); err != nil {
		t.Fatalf("Failed to issue expiring certificate: %v", err)
	}

	if _, err := svc.RevokeClientCertificate(ctx, clientCert.ID, ReasonUnspecified); err != nil {
		t.Fatalf("Failed to revoke client certificate: %v", err)
	}

	sum, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Failed to build summary: %v", err)
	}

	if sum.CACount != 1 {
		t.Errorf("Expected 1 CA, got %d", sum.CACount)
	}
	if sum.ActiveServerCerts != 3 {
		t.Errorf("Expected 3 active server certs, got %d", sum.ActiveServerCerts)
	}
	if sum.ActiveClientCerts != 0 {
		t.Errorf("Expected 0 active client certs after revocation, got %d", sum.ActiveClientCerts)
	}
	if sum.ExpiringServer != 1 {
		t.Errorf("Expected 1 expiring server cert, got %d", sum.ExpiringServer)
	}
}

func TestRevocationReasonValid(t *testing.T) {
	for _, r := range RevocationReasons {
		if !r.Valid() {
			t.Errorf("Expected %q to be valid", r)
		}
	}
	if RevocationReason("bogus").Valid() {
		t.Error("Expected 'bogus' to be invalid")
	}
}
