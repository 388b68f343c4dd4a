package main

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Service ties the issuance engines to the lifecycle store. All issuance
// runs inside a store transaction so signing against a CA and deletion of
// that CA cannot interleave.
type Service struct {
	store    CertificateStore
	validate *validator.Validate
	log      *logrus.Entry
}

// NewService builds a Service on top of the given store.
func NewService(store CertificateStore, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:    store,
		validate: validator.New(),
		log:      log,
	}
}

// Store exposes the underlying lifecycle store for read paths.
func (s *Service) Store() CertificateStore {
	return s.store
}

// CreateCARequest is the input for issuing a root or intermediate CA.
// An empty ParentCAID produces a self-signed root.
type CreateCARequest struct {
	Name               string `json:"name" validate:"required,max=255"`
	CommonName         string `json:"commonName" validate:"required,max=255"`
	Organization       string `json:"organization" validate:"max=255"`
	OrganizationalUnit string `json:"organizationalUnit" validate:"max=255"`
	Country            string `json:"country" validate:"omitempty,len=2"`
	State              string `json:"state" validate:"max=255"`
	Locality           string `json:"locality" validate:"max=255"`
	ValidityDays       int    `json:"validityDays" validate:"omitempty,min=1,max=7300"`
	KeySize            int    `json:"keySize" validate:"omitempty,oneof=2048 4096"`
	ParentCAID         string `json:"parentCaId"`
}

// CreateServerCertRequest is the input for issuing a TLS server certificate.
type CreateServerCertRequest struct {
	Name               string   `json:"name" validate:"required,max=255"`
	CommonName         string   `json:"commonName" validate:"required,max=255"`
	DNSNames           []string `json:"dnsNames" validate:"dive,max=255"`
	IPAddresses        []string `json:"ipAddresses" validate:"dive,max=45"`
	Organization       string   `json:"organization" validate:"max=255"`
	OrganizationalUnit string   `json:"organizationalUnit" validate:"max=255"`
	Country            string   `json:"country" validate:"omitempty,len=2"`
	State              string   `json:"state" validate:"max=255"`
	Locality           string   `json:"locality" validate:"max=255"`
	ValidityDays       int      `json:"validityDays" validate:"omitempty,min=1,max=825"`
	KeySize            int      `json:"keySize" validate:"omitempty,oneof=2048 4096"`
	CAID               string   `json:"caId" validate:"required"`
}

// CreateClientCertRequest is the input for issuing an mTLS client
// certificate. When GeneratePKCS12 is set the issued key and certificate
// are additionally packaged as a password-protected PKCS#12 bundle.
type CreateClientCertRequest struct {
	Name               string `json:"name" validate:"required,max=255"`
	CommonName         string `json:"commonName" validate:"required,max=255"`
	Email              string `json:"email" validate:"omitempty,email"`
	Organization       string `json:"organization" validate:"max=255"`
	OrganizationalUnit string `json:"organizationalUnit" validate:"max=255"`
	Country            string `json:"country" validate:"omitempty,len=2"`
	State              string `json:"state" validate:"max=255"`
	Locality           string `json:"locality" validate:"max=255"`
	ValidityDays       int    `json:"validityDays" validate:"omitempty,min=1,max=1095"`
	KeySize            int    `json:"keySize" validate:"omitempty,oneof=2048 4096"`
	CAID               string `json:"caId" validate:"required"`
	GeneratePKCS12     bool   `json:"generatePkcs12"`
}

func (s *Service) checkRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: field %s fails %q", ErrValidation, f.Field(), f.Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func certificateFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func subjectFromRequest(commonName, org, ou, country, state, locality string) Subject {
	if country == "" {
		country = "US"
	}
	return Subject{
		CommonName:         commonName,
		Organization:       org,
		OrganizationalUnit: ou,
		Country:            country,
		State:              state,
		Locality:           locality,
	}
}

// loadCAMaterial parses a stored CA's certificate and private key. Parse
// failures are reported as ErrCAChain since they make the CA unusable for
// signing.
func loadCAMaterial(ca *CertificateAuthority) (*x509.Certificate, *rsa.PrivateKey, error) {
	cert, err := LoadCertificate([]byte(ca.CertificatePEM))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: CA %q certificate: %v", ErrCAChain, ca.Name, err)
	}
	key, err := LoadPrivateKey([]byte(ca.PrivateKeyPEM), "")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: CA %q private key: %v", ErrCAChain, ca.Name, err)
	}
	return cert, key, nil
}

// IssueCA generates a new CA keypair and certificate and persists the
// record. With a ParentCAID the result is a path-length-zero intermediate
// signed by that parent; without one it is a self-signed root allowed to
// sign exactly one tier of subordinates.
func (s *Service) IssueCA(ctx context.Context, req CreateCARequest) (*CertificateAuthority, error) {
	if err := s.checkRequest(&req); err != nil {
		return nil, err
	}

	opts := DefaultCAOptions(req.CommonName)
	opts.Subject = subjectFromRequest(req.CommonName, req.Organization, req.OrganizationalUnit, req.Country, req.State, req.Locality)
	if req.ValidityDays != 0 {
		opts.ValidityDays = req.ValidityDays
	}
	if req.KeySize != 0 {
		opts.KeySize = req.KeySize
	}

	var record *CertificateAuthority
	err := s.store.Transaction(ctx, func(tx CertificateStore) error {
		if existing, err := tx.GetCAByName(ctx, req.Name); err == nil && existing != nil {
			return fmt.Errorf("%w: CA name %q already in use", ErrValidation, req.Name)
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		var parent *ParentCA
		var parentID *string
		if req.ParentCAID != "" {
			parentRecord, err := tx.GetCA(ctx, req.ParentCAID)
			if err != nil {
				return err
			}
			parentCert, parentKey, err := loadCAMaterial(parentRecord)
			if err != nil {
				return err
			}
			parent = &ParentCA{Certificate: parentCert, PrivateKey: parentKey}
			parentID = &parentRecord.ID
		}

		cert, key, err := GenerateCACertificate(opts, parent)
		if err != nil {
			return err
		}
		keyPEM, err := EncodePrivateKey(key, "")
		if err != nil {
			return err
		}

		record = &CertificateAuthority{
			ID:                 uuid.NewString(),
			Name:               req.Name,
			CommonName:         opts.Subject.CommonName,
			Organization:       opts.Subject.Organization,
			OrganizationalUnit: opts.Subject.OrganizationalUnit,
			Country:            opts.Subject.Country,
			State:              opts.Subject.State,
			Locality:           opts.Subject.Locality,
			CertificatePEM:     string(EncodeCertificate(cert)),
			PrivateKeyPEM:      string(keyPEM),
			SerialNumber:       cert.SerialNumber.Text(16),
			Fingerprint:        certificateFingerprint(cert),
			KeySize:            opts.KeySize,
			ValidFrom:          cert.NotBefore,
			ValidUntil:         cert.NotAfter,
			ParentCAID:         parentID,
			IsRoot:             parent == nil,
		}
		return tx.CreateCA(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"ca": record.Name, "root": record.IsRoot}).Info("issued CA certificate")
	return record, nil
}

// IssueServerCertificate generates a server keypair, signs it with the
// requested CA, and persists the record together with the full chain PEM
// (leaf first, then the issuing CA). The record is assembled as pending
// and flips to active once all material is in place, inside the same
// transaction.
func (s *Service) IssueServerCertificate(ctx context.Context, req CreateServerCertRequest) (*ServerCertificate, error) {
	if err := s.checkRequest(&req); err != nil {
		return nil, err
	}

	opts := DefaultServerCertOptions(req.CommonName)
	opts.Subject = subjectFromRequest(req.CommonName, req.Organization, req.OrganizationalUnit, req.Country, req.State, req.Locality)
	opts.DNSNames = req.DNSNames
	opts.IPAddresses = req.IPAddresses
	if req.ValidityDays != 0 {
		opts.ValidityDays = req.ValidityDays
	}
	if req.KeySize != 0 {
		opts.KeySize = req.KeySize
	}

	var record *ServerCertificate
	err := s.store.Transaction(ctx, func(tx CertificateStore) error {
		caRecord, err := tx.GetCA(ctx, req.CAID)
		if err != nil {
			return err
		}
		caCert, caKey, err := loadCAMaterial(caRecord)
		if err != nil {
			return err
		}

		cert, key, err := GenerateServerCertificate(opts, caCert, caKey)
		if err != nil {
			return err
		}
		keyPEM, err := EncodePrivateKey(key, "")
		if err != nil {
			return err
		}
		certPEM := EncodeCertificate(cert)
		chainPEM := string(certPEM) + caRecord.CertificatePEM

		record = &ServerCertificate{
			ID:                  uuid.NewString(),
			Name:                req.Name,
			CommonName:          opts.Subject.CommonName,
			SANDNSNames:         strings.Join(cert.DNSNames, ","),
			SANIPAddresses:      strings.Join(req.IPAddresses, ","),
			Organization:        opts.Subject.Organization,
			OrganizationalUnit:  opts.Subject.OrganizationalUnit,
			Country:             opts.Subject.Country,
			State:               opts.Subject.State,
			Locality:            opts.Subject.Locality,
			CertificatePEM:      string(certPEM),
			PrivateKeyPEM:       string(keyPEM),
			CertificateChainPEM: chainPEM,
			IssuingCAID:         caRecord.ID,
			SerialNumber:        cert.SerialNumber.Text(16),
			Fingerprint:         certificateFingerprint(cert),
			KeySize:             opts.KeySize,
			ValidFrom:           cert.NotBefore,
			ValidUntil:          cert.NotAfter,
			Status:              StatusActive,
		}
		return tx.CreateServerCertificate(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"name": record.Name, "cn": record.CommonName}).Info("issued server certificate")
	return record, nil
}

// IssueClientCertificate generates a client keypair, signs it with the
// requested CA, and persists the record. When the request asks for a
// PKCS#12 bundle, a random password is generated and stored alongside it.
func (s *Service) IssueClientCertificate(ctx context.Context, req CreateClientCertRequest) (*ClientCertificate, error) {
	if err := s.checkRequest(&req); err != nil {
		return nil, err
	}

	opts := DefaultClientCertOptions(req.CommonName)
	opts.Subject = subjectFromRequest(req.CommonName, req.Organization, req.OrganizationalUnit, req.Country, req.State, req.Locality)
	opts.Subject.Email = req.Email
	if req.ValidityDays != 0 {
		opts.ValidityDays = req.ValidityDays
	}
	if req.KeySize != 0 {
		opts.KeySize = req.KeySize
	}

	var record *ClientCertificate
	err := s.store.Transaction(ctx, func(tx CertificateStore) error {
		caRecord, err := tx.GetCA(ctx, req.CAID)
		if err != nil {
			return err
		}
		caCert, caKey, err := loadCAMaterial(caRecord)
		if err != nil {
			return err
		}

		cert, key, err := GenerateClientCertificate(opts, caCert, caKey)
		if err != nil {
			return err
		}
		keyPEM, err := EncodePrivateKey(key, "")
		if err != nil {
			return err
		}

		var bundle []byte
		var password string
		if req.GeneratePKCS12 {
			password, err = RandomPassword(16)
			if err != nil {
				return err
			}
			bundle, err = BuildPKCS12(cert, key, caCert, password)
			if err != nil {
				return err
			}
		}

		record = &ClientCertificate{
			ID:                 uuid.NewString(),
			Name:               req.Name,
			CommonName:         opts.Subject.CommonName,
			Email:              req.Email,
			Organization:       opts.Subject.Organization,
			OrganizationalUnit: opts.Subject.OrganizationalUnit,
			Country:            opts.Subject.Country,
			State:              opts.Subject.State,
			Locality:           opts.Subject.Locality,
			CertificatePEM:     string(EncodeCertificate(cert)),
			PrivateKeyPEM:      string(keyPEM),
			P12Bundle:          bundle,
			P12Password:        password,
			IssuingCAID:        caRecord.ID,
			SerialNumber:       cert.SerialNumber.Text(16),
			Fingerprint:        certificateFingerprint(cert),
			KeySize:            opts.KeySize,
			ValidFrom:          cert.NotBefore,
			ValidUntil:         cert.NotAfter,
			Status:             StatusActive,
		}
		return tx.CreateClientCertificate(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"name": record.Name, "cn": record.CommonName, "p12": req.GeneratePKCS12}).Info("issued client certificate")
	return record, nil
}

// RevokeServerCertificate revokes an active server certificate with the
// given reason.
func (s *Service) RevokeServerCertificate(ctx context.Context, id string, reason RevocationReason) (*ServerCertificate, error) {
	cert, err := s.store.RevokeServerCertificate(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"name": cert.Name, "reason": reason}).Info("revoked server certificate")
	return cert, nil
}

// RevokeClientCertificate revokes an active client certificate with the
// given reason.
func (s *Service) RevokeClientCertificate(ctx context.Context, id string, reason RevocationReason) (*ClientCertificate, error) {
	cert, err := s.store.RevokeClientCertificate(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"name": cert.Name, "reason": reason}).Info("revoked client certificate")
	return cert, nil
}

// DeleteCA removes a CA once nothing depends on it.
func (s *Service) DeleteCA(ctx context.Context, id string) error {
	if err := s.store.DeleteCA(ctx, id); err != nil {
		return err
	}
	s.log.WithField("id", id).Info("deleted CA")
	return nil
}

// Summary returns dashboard counts.
func (s *Service) Summary(ctx context.Context) (*StoreSummary, error) {
	return s.store.Summary(ctx)
}
