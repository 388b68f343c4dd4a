package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"time"
)

// ServerCertOptions contains options for issuing a server certificate.
type ServerCertOptions struct {
	Subject      Subject
	DNSNames     []string
	IPAddresses  []string
	ValidityDays int
	KeySize      int
}

// ClientCertOptions contains options for issuing a client certificate. An
// email on the subject is additionally embedded as an rfc822Name SAN.
type ClientCertOptions struct {
	Subject      Subject
	ValidityDays int
	KeySize      int
}

// DefaultServerCertOptions returns the default issuance options for a
// server certificate.
func DefaultServerCertOptions(commonName string) ServerCertOptions {
	return ServerCertOptions{
		Subject:      Subject{CommonName: commonName, Country: "US"},
		ValidityDays: DefaultLeafValidityDays,
		KeySize:      DefaultLeafKeySize,
	}
}

// DefaultClientCertOptions returns the default issuance options for a
// client certificate.
func DefaultClientCertOptions(commonName string) ClientCertOptions {
	return ClientCertOptions{
		Subject:      Subject{CommonName: commonName, Country: "US"},
		ValidityDays: DefaultLeafValidityDays,
		KeySize:      DefaultLeafKeySize,
	}
}

// buildServerSANs assembles the SAN lists. The common name always comes
// first and is suppressed from the supplied DNS list; IP entries must parse
// as IPv4/IPv6 literals.
func buildServerSANs(commonName string, dnsNames, ipAddresses []string) ([]string, []net.IP, error) {
	dns := []string{commonName}
	for _, name := range dnsNames {
		name = strings.TrimSpace(name)
		if name == "" || name == commonName {
			continue
		}
		dns = append(dns, name)
	}

	var ips []net.IP
	for _, ipStr := range ipAddresses {
		ipStr = strings.TrimSpace(ipStr)
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return nil, nil, fmt.Errorf("%w: %q is not a valid IP address", ErrInvalidSAN, ipStr)
		}
		ips = append(ips, ip)
	}

	return dns, ips, nil
}

func signLeafCertificate(template *x509.Certificate, publicKey *rsa.PublicKey, caCert *x509.Certificate, caKey *rsa.PrivateKey) (*x509.Certificate, error) {
	certDER, err := x509.CreateCertificate(rand.Reader, template, caCert, publicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// GenerateServerCertificate issues a server certificate signed by the CA.
func GenerateServerCertificate(opts ServerCertOptions, caCert *x509.Certificate, caKey *rsa.PrivateKey) (*x509.Certificate, *rsa.PrivateKey, error) {
	if err := validateIssuance(opts.Subject, opts.ValidityDays, MaxServerValidityDays, opts.KeySize); err != nil {
		return nil, nil, err
	}

	dnsNames, ipAddresses, err := buildServerSANs(opts.Subject.CommonName, opts.DNSNames, opts.IPAddresses)
	if err != nil {
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
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddresses,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	cert, err := signLeafCertificate(template, &privateKey.PublicKey, caCert, caKey)
	if err != nil {
		return nil, nil, err
	}

	return cert, privateKey, nil
}

// GenerateClientCertificate issues a client certificate for mTLS
// authentication signed by the CA.
func GenerateClientCertificate(opts ClientCertOptions, caCert *x509.Certificate, caKey *rsa.PrivateKey) (*x509.Certificate, *rsa.PrivateKey, error) {
	if err := validateIssuance(opts.Subject, opts.ValidityDays, MaxClientValidityDays, opts.KeySize); err != nil {
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
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}
	if opts.Subject.Email != "" {
		template.EmailAddresses = []string{opts.Subject.Email}
	}

	cert, err := signLeafCertificate(template, &privateKey.PublicKey, caCert, caKey)
	if err != nil {
		return nil, nil, err
	}

	return cert, privateKey, nil
}
