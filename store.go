package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// CertificateStatus is the lifecycle state of a leaf certificate.
type CertificateStatus string

const (
	StatusPending CertificateStatus = "pending"
	StatusActive  CertificateStatus = "active"
	StatusExpired CertificateStatus = "expired"
	StatusRevoked CertificateStatus = "revoked"
)

// RevocationReason is the recorded cause of a revocation.
type RevocationReason string

const (
	ReasonUnspecified          RevocationReason = "unspecified"
	ReasonKeyCompromise        RevocationReason = "key_compromise"
	ReasonCACompromise         RevocationReason = "ca_compromise"
	ReasonAffiliationChanged   RevocationReason = "affiliation_changed"
	ReasonSuperseded           RevocationReason = "superseded"
	ReasonCessationOfOperation RevocationReason = "cessation_of_operation"
)

// RevocationReasons lists every accepted reason.
var RevocationReasons = []RevocationReason{
	ReasonUnspecified,
	ReasonKeyCompromise,
	ReasonCACompromise,
	ReasonAffiliationChanged,
	ReasonSuperseded,
	ReasonCessationOfOperation,
}

// Valid reports whether the reason is one of the accepted set.
func (r RevocationReason) Valid() bool {
	for _, known := range RevocationReasons {
		if r == known {
			return true
		}
	}
	return false
}

// CertificateAuthority is the persisted record of a root or intermediate CA.
type CertificateAuthority struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Name               string `gorm:"uniqueIndex;size:255;not null"`
	CommonName         string `gorm:"column:common_name;size:255;not null"`
	Organization       string `gorm:"size:255"`
	OrganizationalUnit string `gorm:"size:255"`
	Country            string `gorm:"size:2"`
	State              string `gorm:"size:255"`
	Locality           string `gorm:"size:255"`

	CertificatePEM string `gorm:"column:certificate_pem;type:text"`
	PrivateKeyPEM  string `gorm:"column:private_key_pem;type:text"`

	SerialNumber string `gorm:"column:serial_number;size:64"`
	Fingerprint  string `gorm:"size:64"`
	KeySize      int    `gorm:"column:key_size"`

	ValidFrom  time.Time `gorm:"column:valid_from"`
	ValidUntil time.Time `gorm:"column:valid_until"`

	ParentCAID *string               `gorm:"column:parent_ca_id;size:36;index"`
	ParentCA   *CertificateAuthority `gorm:"foreignKey:ParentCAID"`
	IsRoot     bool                  `gorm:"column:is_root"`

	CreatedAt time.Time
}

// IsValid reports whether the CA certificate is currently within its
// validity window. CAs carry no revocation state in this design.
func (ca *CertificateAuthority) IsValid() bool {
	now := time.Now()
	return !now.Before(ca.ValidFrom) && !now.After(ca.ValidUntil)
}

// DaysUntilExpiry returns the remaining whole days of validity, floored at
// zero.
func (ca *CertificateAuthority) DaysUntilExpiry() int {
	days := int(time.Until(ca.ValidUntil).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// ServerCertificate is the persisted record of an issued TLS server
// certificate.
type ServerCertificate struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Name               string `gorm:"size:255;not null"`
	CommonName         string `gorm:"column:common_name;size:255;not null"`
	SANDNSNames        string `gorm:"column:san_dns_names;type:text"`
	SANIPAddresses     string `gorm:"column:san_ip_addresses;type:text"`
	Organization       string `gorm:"size:255"`
	OrganizationalUnit string `gorm:"size:255"`
	Country            string `gorm:"size:2"`
	State              string `gorm:"size:255"`
	Locality           string `gorm:"size:255"`

	CertificatePEM      string `gorm:"column:certificate_pem;type:text"`
	PrivateKeyPEM       string `gorm:"column:private_key_pem;type:text"`
	CSRPEM              string `gorm:"column:csr_pem;type:text"`
	CertificateChainPEM string `gorm:"column:certificate_chain_pem;type:text"`

	IssuingCAID string                `gorm:"column:issuing_ca_id;size:36;not null;index;uniqueIndex:idx_server_serial"`
	IssuingCA   *CertificateAuthority `gorm:"foreignKey:IssuingCAID"`

	SerialNumber string `gorm:"column:serial_number;size:64;uniqueIndex:idx_server_serial"`
	Fingerprint  string `gorm:"size:64"`
	KeySize      int    `gorm:"column:key_size"`

	ValidFrom  time.Time `gorm:"column:valid_from"`
	ValidUntil time.Time `gorm:"column:valid_until"`

	Status           CertificateStatus `gorm:"size:20;not null"`
	RevokedAt        *time.Time        `gorm:"column:revoked_at"`
	RevocationReason RevocationReason  `gorm:"column:revocation_reason;size:32"`

	CreatedAt time.Time
}

// IsValid reports whether the certificate is active and inside its validity
// window. Expiry is only observable through this predicate; nothing
// transitions active records to expired in the store.
func (c *ServerCertificate) IsValid() bool {
	if c.Status != StatusActive {
		return false
	}
	now := time.Now()
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// ClientCertificate is the persisted record of an issued mTLS client
// certificate.
type ClientCertificate struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Name               string `gorm:"size:255;not null"`
	CommonName         string `gorm:"column:common_name;size:255;not null"`
	Email              string `gorm:"size:255"`
	Organization       string `gorm:"size:255"`
	OrganizationalUnit string `gorm:"size:255"`
	Country            string `gorm:"size:2"`
	State              string `gorm:"size:255"`
	Locality           string `gorm:"size:255"`

	CertificatePEM string `gorm:"column:certificate_pem;type:text"`
	PrivateKeyPEM  string `gorm:"column:private_key_pem;type:text"`
	CSRPEM         string `gorm:"column:csr_pem;type:text"`

	P12Bundle   []byte `gorm:"column:p12_bundle"`
	P12Password string `gorm:"column:p12_password;size:255"`

	IssuingCAID string                `gorm:"column:issuing_ca_id;size:36;not null;index;uniqueIndex:idx_client_serial"`
	IssuingCA   *CertificateAuthority `gorm:"foreignKey:IssuingCAID"`

	SerialNumber string `gorm:"column:serial_number;size:64;uniqueIndex:idx_client_serial"`
	Fingerprint  string `gorm:"size:64"`
	KeySize      int    `gorm:"column:key_size"`

	ValidFrom  time.Time `gorm:"column:valid_from"`
	ValidUntil time.Time `gorm:"column:valid_until"`

	Status           CertificateStatus `gorm:"size:20;not null"`
	RevokedAt        *time.Time        `gorm:"column:revoked_at"`
	RevocationReason RevocationReason  `gorm:"column:revocation_reason;size:32"`

	CreatedAt time.Time
}

// IsValid reports whether the certificate is active and inside its validity
// window.
func (c *ClientCertificate) IsValid() bool {
	if c.Status != StatusActive {
		return false
	}
	now := time.Now()
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// StoreSummary aggregates dashboard counts.
type StoreSummary struct {
	CACount           int64 `json:"caCount"`
	ActiveServerCerts int64 `json:"activeServerCerts"`
	ActiveClientCerts int64 `json:"activeClientCerts"`
	ExpiringServer    int64 `json:"expiringServer"`
	ExpiringClient    int64 `json:"expiringClient"`
}

// CertificateStore owns persistence and the lifecycle rules over the three
// entity types.
type CertificateStore interface {
	CreateCA(ctx context.Context, ca *CertificateAuthority) error
	GetCA(ctx context.Context, id string) (*CertificateAuthority, error)
	GetCAByName(ctx context.Context, name string) (*CertificateAuthority, error)
	ListCAs(ctx context.Context) ([]*CertificateAuthority, error)
	ListChildCAs(ctx context.Context, parentID string) ([]*CertificateAuthority, error)
	DeleteCA(ctx context.Context, id string) error

	CreateServerCertificate(ctx context.Context, cert *ServerCertificate) error
	GetServerCertificate(ctx context.Context, id string) (*ServerCertificate, error)
	ListServerCertificates(ctx context.Context) ([]*ServerCertificate, error)
	RevokeServerCertificate(ctx context.Context, id string, reason RevocationReason) (*ServerCertificate, error)
	DeleteServerCertificate(ctx context.Context, id string) error

	CreateClientCertificate(ctx context.Context, cert *ClientCertificate) error
	GetClientCertificate(ctx context.Context, id string) (*ClientCertificate, error)
	ListClientCertificates(ctx context.Context) ([]*ClientCertificate, error)
	RevokeClientCertificate(ctx context.Context, id string, reason RevocationReason) (*ClientCertificate, error)
	DeleteClientCertificate(ctx context.Context, id string) error

	Summary(ctx context.Context) (*StoreSummary, error)
	Transaction(ctx context.Context, fn func(tx CertificateStore) error) error
}

// Store is the sqlite-backed CertificateStore.
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
}

var _ CertificateStore = (*Store)(nil)

// OpenStore opens (creating if necessary) the sqlite database at path and
// migrates the schema.
func OpenStore(path string, logger *logrus.Entry) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&CertificateAuthority{}, &ServerCertificate{}, &ClientCertificate{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{db: db, log: logger}, nil
}

// Transaction runs fn inside a database transaction. sqlite serializes
// writers, so an in-flight issuance and a delete of the same CA are
// mutually exclusive once both touch the database.
func (s *Store) Transaction(ctx context.Context, fn func(tx CertificateStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, log: s.log})
	})
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// CreateCA persists a new CA record.
func (s *Store) CreateCA(ctx context.Context, ca *CertificateAuthority) error {
	if err := s.db.WithContext(ctx).Create(ca).Error; err != nil {
		return fmt.Errorf("failed to save CA: %w", err)
	}
	return nil
}

// GetCA fetches a CA by id.
func (s *Store) GetCA(ctx context.Context, id string) (*CertificateAuthority, error) {
	var ca CertificateAuthority
	if err := s.db.WithContext(ctx).First(&ca, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &ca, nil
}

// GetCAByName fetches a CA by its unique name.
func (s *Store) GetCAByName(ctx context.Context, name string) (*CertificateAuthority, error) {
	var ca CertificateAuthority
	if err := s.db.WithContext(ctx).First(&ca, "name = ?", name).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &ca, nil
}

// ListCAs returns all CAs, newest first.
func (s *Store) ListCAs(ctx context.Context) ([]*CertificateAuthority, error) {
	var cas []*CertificateAuthority
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&cas).Error; err != nil {
		return nil, err
	}
	return cas, nil
}

// ListChildCAs returns the CAs whose parent is parentID.
func (s *Store) ListChildCAs(ctx context.Context, parentID string) ([]*CertificateAuthority, error) {
	var cas []*CertificateAuthority
	if err := s.db.WithContext(ctx).Where("parent_ca_id = ?", parentID).Order("created_at DESC").Find(&cas).Error; err != nil {
		return nil, err
	}
	return cas, nil
}

// DeleteCA removes a CA record. It fails with ErrDependencyExists while any
// issued server certificate, client certificate, or child CA references it.
func (s *Store) DeleteCA(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ca CertificateAuthority
		if err := tx.First(&ca, "id = ?", id).Error; err != nil {
			return translateNotFound(err)
		}

		var serverCount, clientCount, childCount int64
		if err := tx.Model(&ServerCertificate{}).Where("issuing_ca_id = ?", id).Count(&serverCount).Error; err != nil {
			return err
		}
		if err := tx.Model(&ClientCertificate{}).Where("issuing_ca_id = ?", id).Count(&clientCount).Error; err != nil {
			return err
		}
		if err := tx.Model(&CertificateAuthority{}).Where("parent_ca_id = ?", id).Count(&childCount).Error; err != nil {
			return err
		}

		if serverCount > 0 || clientCount > 0 || childCount > 0 {
			return fmt.Errorf("%w: %q has %d server certs, %d client certs, %d child CAs",
				ErrDependencyExists, ca.Name, serverCount, clientCount, childCount)
		}

		return tx.Delete(&ca).Error
	})
}

// CreateServerCertificate persists a new server certificate record.
func (s *Store) CreateServerCertificate(ctx context.Context, cert *ServerCertificate) error {
	if err := s.db.WithContext(ctx).Create(cert).Error; err != nil {
		return fmt.Errorf("failed to save server certificate: %w", err)
	}
	return nil
}

// GetServerCertificate fetches a server certificate by id.
func (s *Store) GetServerCertificate(ctx context.Context, id string) (*ServerCertificate, error) {
	var cert ServerCertificate
	if err := s.db.WithContext(ctx).First(&cert, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &cert, nil
}

// ListServerCertificates returns all server certificates, newest first.
func (s *Store) ListServerCertificates(ctx context.Context) ([]*ServerCertificate, error) {
	var certs []*ServerCertificate
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// RevokeServerCertificate marks an active server certificate as revoked.
func (s *Store) RevokeServerCertificate(ctx context.Context, id string, reason RevocationReason) (*ServerCertificate, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown revocation reason %q", ErrValidation, reason)
	}

	var cert ServerCertificate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&cert, "id = ?", id).Error; err != nil {
			return translateNotFound(err)
		}
		if cert.Status != StatusActive {
			return fmt.Errorf("%w: cannot revoke %s certificate %q", ErrInvalidStateTransition, cert.Status, cert.Name)
		}
		now := time.Now()
		cert.Status = StatusRevoked
		cert.RevokedAt = &now
		cert.RevocationReason = reason
		return tx.Save(&cert).Error
	})
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// DeleteServerCertificate removes a server certificate record and all its
// material. Leaf certificates have no dependents, so deletion is
// unconditional.
func (s *Store) DeleteServerCertificate(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ServerCertificate{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: server certificate %s", ErrNotFound, id)
	}
	return nil
}

// CreateClientCertificate persists a new client certificate record.
func (s *Store) CreateClientCertificate(ctx context.Context, cert *ClientCertificate) error {
	if err := s.db.WithContext(ctx).Create(cert).Error; err != nil {
		return fmt.Errorf("failed to save client certificate: %w", err)
	}
	return nil
}

// GetClientCertificate fetches a client certificate by id.
func (s *Store) GetClientCertificate(ctx context.Context, id string) (*ClientCertificate, error) {
	var cert ClientCertificate
	if err := s.db.WithContext(ctx).First(&cert, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &cert, nil
}

// ListClientCertificates returns all client certificates, newest first.
func (s *Store) ListClientCertificates(ctx context.Context) ([]*ClientCertificate, error) {
	var certs []*ClientCertificate
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// RevokeClientCertificate marks an active client certificate as revoked.
func (s *Store) RevokeClientCertificate(ctx context.Context, id string, reason RevocationReason) (*ClientCertificate, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown revocation reason %q", ErrValidation, reason)
	}

	var cert ClientCertificate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&cert, "id = ?", id).Error; err != nil {
			return translateNotFound(err)
		}
		if cert.Status != StatusActive {
			return fmt.Errorf("%w: cannot revoke %s certificate %q", ErrInvalidStateTransition, cert.Status, cert.Name)
		}
		now := time.Now()
		cert.Status = StatusRevoked
		cert.RevokedAt = &now
		cert.RevocationReason = reason
		return tx.Save(&cert).Error
	})
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// DeleteClientCertificate removes a client certificate record, including
// any PKCS#12 bundle.
func (s *Store) DeleteClientCertificate(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ClientCertificate{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: client certificate %s", ErrNotFound, id)
	}
	return nil
}

// Summary returns dashboard counts: totals per entity and active leaf
// certificates expiring within 30 days.
func (s *Store) Summary(ctx context.Context) (*StoreSummary, error) {
	var sum StoreSummary
	db := s.db.WithContext(ctx)
	now := time.Now()
	soon := now.Add(30 * 24 * time.Hour)

	if err := db.Model(&CertificateAuthority{}).Count(&sum.CACount).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&ServerCertificate{}).Where("status = ?", StatusActive).Count(&sum.ActiveServerCerts).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&ClientCertificate{}).Where("status = ?", StatusActive).Count(&sum.ActiveClientCerts).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&ServerCertificate{}).
		Where("status = ? AND valid_until BETWEEN ? AND ?", StatusActive, now, soon).
		Count(&sum.ExpiringServer).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&ClientCertificate{}).
		Where("status = ? AND valid_until BETWEEN ? AND ?", StatusActive, now, soon).
		Count(&sum.ExpiringClient).Error; err != nil {
		return nil, err
	}
	return &sum, nil
}
