package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"
)

// Validity limits in days per certificate kind. The server limit follows the
// CA/Browser Forum maximum for publicly trusted server certificates.
const (
	MaxCAValidityDays     = 7300
	MaxServerValidityDays = 825
	MaxClientValidityDays = 1095
)

// Default issuance parameters.
const (
	DefaultCAValidityDays   = 3650
	DefaultCAKeySize        = KeySize4096
	DefaultLeafValidityDays = 365
	DefaultLeafKeySize      = KeySize2048
)

// CAOptions contains options for issuing a Certificate Authority.
type CAOptions struct {
	Subject      Subject
	ValidityDays int
	KeySize      int
}

// ParentCA carries the signing material of an existing CA. A nil parent
// produces a self-signed root.
type ParentCA struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
}

// DefaultCAOptions returns the default issuance options for a CA.
func DefaultCAOptions(commonName string) CAOptions {
	return CAOptions{
		Subject:      Subject{CommonName: commonName, Country: "US"},
		ValidityDays: DefaultCAValidityDays,
		KeySize:      DefaultCAKeySize,
	}
}

func validKeySize(keySize int) bool {
	return keySize == KeySize2048 || keySize == KeySize4096
}

func validateIssuance(subject Subject, validityDays, maxDays, keySize int) error {
	if subject.CommonName == "" {
		return fmt.Errorf("%w: common name is required", ErrValidation)
	}
	if validityDays < 1 || validityDays > maxDays {
		return fmt.Errorf("%w: validity days must be within [1, %d], got %d", ErrValidation, maxDays, validityDays)
	}
	if !validKeySize(keySize) {
		return fmt.Errorf("%w: key size must be 2048 or 4096, got %d", ErrValidation, keySize)
	}
	return nil
}

func randomSerialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

// GenerateCACertificate issues a CA certificate and its private key. With a
// parent the result is an intermediate signed by the parent's key with path
// length 0; without one it is a self-signed root with path length 1, so a
// root can sign intermediates but intermediates can only sign leaves.
func GenerateCACertificate(opts CAOptions, parent *ParentCA) (*x509.Certificate, *rsa.PrivateKey, error) {
	if err := validateIssuance(opts.Subject, opts.ValidityDays, MaxCAValidityDays, opts.KeySize); err != nil {
		return nil, nil, err
	}

	privateKey, err := GenerateKeyPair(opts.KeySize)
	if err != nil {
		return nil, nil, err
	}

	serial, err := randomSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	ski, err := subjectKeyID(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               opts.Subject.Name(),
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(opts.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	issuerCert := template
	signingKey := privateKey
	if parent == nil {
		template.MaxPathLen = 1
	} else {
		template.MaxPathLenZero = true
		issuerCert = parent.Certificate
		signingKey = parent.PrivateKey
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, issuerCert, &privateKey.PublicKey, signingKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return cert, privateKey, nil
}
