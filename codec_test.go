package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"

	"software.sslmate.com/src/go-pkcs12"
)

func TestSubjectName(t *testing.T) {
	t.Run("Full subject", func(t *testing.T) {
		s := Subject{
			CommonName:         "example.com",
			Organization:       "Acme",
			OrganizationalUnit: "Engineering",
			Country:            "US",
			State:              "California",
			Locality:           "San Francisco",
		}
		name := s.Name()

		if name.CommonName != "example.com" {
			t.Errorf("Expected CN 'example.com', got '%s'", name.CommonName)
		}
		if len(name.Organization) != 1 || name.Organization[0] != "Acme" {
			t.Errorf("Expected Organization 'Acme', got '%v'", name.Organization)
		}
		if len(name.Province) != 1 || name.Province[0] != "California" {
			t.Errorf("Expected Province 'California', got '%v'", name.Province)
		}
	})

	t.Run("Empty optional fields are omitted", func(t *testing.T) {
		name := Subject{CommonName: "bare"}.Name()

		if len(name.Organization) != 0 {
			t.Errorf("Expected no Organization, got '%v'", name.Organization)
		}
		if len(name.Country) != 0 {
			t.Errorf("Expected no Country, got '%v'", name.Country)
		}
		if len(name.ExtraNames) != 0 {
			t.Errorf("Expected no ExtraNames, got %d", len(name.ExtraNames))
		}
	})

	t.Run("Email becomes an extra name attribute", func(t *testing.T) {
		name := Subject{CommonName: "alice", Email: "alice@example.com"}.Name()

		if len(name.ExtraNames) != 1 {
			t.Fatalf("Expected 1 extra name, got %d", len(name.ExtraNames))
		}
		if !name.ExtraNames[0].Type.Equal(oidEmailAddress) {
			t.Errorf("Expected emailAddress OID, got %v", name.ExtraNames[0].Type)
		}
	})
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GenerateKeyPair(KeySize2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	t.Run("Unencrypted PKCS#1", func(t *testing.T) {
		pemData, err := EncodePrivateKey(key, "")
		if err != nil {
			t.Fatalf("Failed to encode key: %v", err)
		}

		loaded, err := LoadPrivateKey(pemData, "")
		if err != nil {
			t.Fatalf("Failed to load key: %v", err)
		}
		if !loaded.Equal(key) {
			t.Error("Loaded key does not match original")
		}
	})

	t.Run("Encrypted with passphrase", func(t *testing.T) {
		pemData, err := EncodePrivateKey(key, "hunter2")
		if err != nil {
			t.Fatalf("Failed to encode key: %v", err)
		}

		loaded, err := LoadPrivateKey(pemData, "hunter2")
		if err != nil {
			t.Fatalf("Failed to load encrypted key: %v", err)
		}
		if !loaded.Equal(key) {
			t.Error("Loaded key does not match original")
		}
	})

	t.Run("Wrong passphrase fails", func(t *testing.T) {
		pemData, err := EncodePrivateKey(key, "hunter2")
		if err != nil {
			t.Fatalf("Failed to encode key: %v", err)
		}

		if _, err := LoadPrivateKey(pemData, "wrong"); !errors.Is(err, ErrCodec) {
			t.Errorf("Expected ErrCodec, got %v", err)
		}
	})

	t.Run("PKCS#8 encoding is accepted", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("Failed to marshal PKCS#8: %v", err)
		}
		pemData := pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der})

		loaded, err := LoadPrivateKey(pemData, "")
		if err != nil {
			t.Fatalf("Failed to load PKCS#8 key: %v", err)
		}
		if !loaded.Equal(key) {
			t.Error("Loaded key does not match original")
		}
	})

	t.Run("Garbage input fails", func(t *testing.T) {
		if _, err := LoadPrivateKey([]byte("not a key"), ""); !errors.Is(err, ErrCodec) {
			t.Errorf("Expected ErrCodec, got %v", err)
		}
	})
}

func TestCertificateRoundTrip(t *testing.T) {
	opts := DefaultCAOptions("Round Trip CA")
	opts.KeySize = KeySize2048
	cert, _, err := GenerateCACertificate(opts, nil)
	if err != nil {
		t.Fatalf("Failed to generate CA: %v", err)
	}

	pemData := EncodeCertificate(cert)
	loaded, err := LoadCertificate(pemData)
	if err != nil {
		t.Fatalf("Failed to load certificate: %v", err)
	}

	if loaded.Subject.CommonName != "Round Trip CA" {
		t.Errorf("Expected CN 'Round Trip CA', got '%s'", loaded.Subject.CommonName)
	}
	if loaded.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Error("Serial number changed across round trip")
	}
	if !loaded.NotAfter.Equal(cert.NotAfter) {
		t.Error("NotAfter changed across round trip")
	}
}

func TestLoadCertificateRejectsBadInput(t *testing.T) {
	if _, err := LoadCertificate([]byte("no pem here")); !errors.Is(err, ErrCodec) {
		t.Errorf("Expected ErrCodec, got %v", err)
	}

	block := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: []byte{0x01, 0x02}})
	if _, err := LoadCertificate(block); !errors.Is(err, ErrCodec) {
		t.Errorf("Expected ErrCodec for malformed DER, got %v", err)
	}
}

func TestRandomPassword(t *testing.T) {
	a, err := RandomPassword(16)
	if err != nil {
		t.Fatalf("Failed to generate password: %v", err)
	}
	b, err := RandomPassword(16)
	if err != nil {
		t.Fatalf("Failed to generate password: %v", err)
	}

	if a == b {
		t.Error("Two generated passwords are identical")
	}
	// 16 random bytes encode to 22 base64url characters
	if len(a) != 22 {
		t.Errorf("Expected 22 characters, got %d", len(a))
	}
}

func TestBuildPKCS12(t *testing.T) {
	caOpts := DefaultCAOptions("Bundle Test CA")
	caOpts.KeySize = KeySize2048
	caCert, caKey, err := GenerateCACertificate(caOpts, nil)
	if err != nil {
		t.Fatalf("Failed to generate CA: %v", err)
	}

	clientOpts := DefaultClientCertOptions("bundle-client")
	cert, key, err := GenerateClientCertificate(clientOpts, caCert, caKey)
	if err != nil {
		t.Fatalf("Failed to generate client certificate: %v", err)
	}

	password, err := RandomPassword(16)
	if err != nil {
		t.Fatalf("Failed to generate password: %v", err)
	}

	bundle, err := BuildPKCS12(cert, key, caCert, password)
	if err != nil {
		t.Fatalf("Failed to build bundle: %v", err)
	}

	t.Run("Decodes with correct password", func(t *testing.T) {
		decodedKey, decodedCert, caCerts, err := pkcs12.DecodeChain(bundle, password)
		if err != nil {
			t.Fatalf("Failed to decode bundle: %v", err)
		}

		rsaKey, ok := decodedKey.(*rsa.PrivateKey)
		if !ok {
			t.Fatal("Decoded key is not RSA")
		}
		if !rsaKey.Equal(key) {
			t.Error("Decoded key does not match original")
		}
		if decodedCert.Subject.CommonName != "bundle-client" {
			t.Errorf("Expected CN 'bundle-client', got '%s'", decodedCert.Subject.CommonName)
		}
		if len(caCerts) != 1 || caCerts[0].Subject.CommonName != "Bundle Test CA" {
			t.Errorf("Expected issuing CA in chain, got %v", caCerts)
		}
	})

	t.Run("Rejects wrong password", func(t *testing.T) {
		if _, _, _, err := pkcs12.DecodeChain(bundle, "wrong-password"); err == nil {
			t.Error("Expected decode to fail with wrong password")
		}
	})
}

func TestSubjectKeyID(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, KeySize2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	ski, err := subjectKeyID(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive SKI: %v", err)
	}
	if len(ski) != 20 {
		t.Errorf("Expected 20-byte SHA-1 identifier, got %d bytes", len(ski))
	}

	again, err := subjectKeyID(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive SKI: %v", err)
	}
	if string(ski) != string(again) {
		t.Error("SKI derivation is not deterministic")
	}
}
