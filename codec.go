package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"
)

// Supported RSA key sizes.
const (
	KeySize2048 = 2048
	KeySize4096 = 4096
)

const (
	pemTypeCertificate   = "CERTIFICATE"
	pemTypeRSAPrivateKey = "RSA PRIVATE KEY"
	pemTypePrivateKey    = "PRIVATE KEY"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// Subject holds the distinguished-name attributes for a certificate.
// Empty optional fields are omitted from the encoded name entirely.
type Subject struct {
	CommonName         string
	Organization       string
	OrganizationalUnit string
	Country            string
	State              string
	Locality           string
	Email              string
}

// Name builds the pkix.Name for the subject.
func (s Subject) Name() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.State != "" {
		name.Province = []string{s.State}
	}
	if s.Locality != "" {
		name.Locality = []string{s.Locality}
	}
	if s.Email != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  oidEmailAddress,
			Value: asn1.RawValue{Tag: asn1.TagIA5String, Bytes: []byte(s.Email)},
		})
	}
	return name
}

// GenerateKeyPair generates an RSA private key of the given size.
func GenerateKeyPair(keySize int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa %d: %v", ErrKeyGeneration, keySize, err)
	}
	return key, nil
}

// EncodePrivateKey serializes a private key to PEM. With an empty passphrase
// the key is written unencrypted, matching the stored-material format.
func EncodePrivateKey(key *rsa.PrivateKey, passphrase string) ([]byte, error) {
	der := x509.MarshalPKCS1PrivateKey(key)
	if passphrase == "" {
		return pem.EncodeToMemory(&pem.Block{Type: pemTypeRSAPrivateKey, Bytes: der}), nil
	}
	block, err := x509.EncryptPEMBlock(rand.Reader, pemTypeRSAPrivateKey, der, []byte(passphrase), x509.PEMCipherAES256)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

// EncodeCertificate serializes a certificate to PEM.
func EncodeCertificate(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw})
}

// LoadCertificate parses a PEM-encoded certificate.
func LoadCertificate(pemData []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, fmt.Errorf("%w: no CERTIFICATE block", ErrCodec)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return cert, nil
}

// LoadPrivateKey parses a PEM-encoded RSA private key, decrypting it with
// the passphrase when the block is encrypted. Both PKCS#1 and PKCS#8
// encodings are accepted.
func LoadPrivateKey(pemData []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrCodec)
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		der, err = x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrCodec)
	}
	return key, nil
}

// BuildPKCS12 packs a leaf certificate, its private key and the issuing CA
// certificate into a password-protected PKCS#12 bundle.
func BuildPKCS12(cert *x509.Certificate, key *rsa.PrivateKey, caCert *x509.Certificate, password string) ([]byte, error) {
	data, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{caCert}, password)
	if err != nil {
		return nil, fmt.Errorf("failed to build PKCS#12 bundle: %w", err)
	}
	return data, nil
}

// RandomPassword returns a URL-safe random string derived from byteLength
// random bytes, used to protect PKCS#12 bundles.
func RandomPassword(byteLength int) (string, error) {
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// subjectKeyID derives the Subject Key Identifier for a public key: the
// SHA-1 digest of the subjectPublicKey bit string, per RFC 5280 §4.2.1.2.
func subjectKeyID(pub *rsa.PublicKey) ([]byte, error) {
	spkiDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	var spki struct {
		Algorithm        pkix.AlgorithmIdentifier
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spkiDER, &spki); err != nil {
		return nil, fmt.Errorf("failed to unmarshal public key info: %w", err)
	}
	sum := sha1.Sum(spki.SubjectPublicKey.Bytes)
	return sum[:], nil
}
