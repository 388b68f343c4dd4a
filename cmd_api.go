package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// APIConfig is read from CERTOSAURUS_* environment variables and can be
// overridden by flags.
type APIConfig struct {
	Host string `default:"0.0.0.0"`
	Port int    `default:"8080"`
	DB   string `default:"./certosaurus.db"`
}

func serverCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		Long:  "Start a REST API server to manage certificates via HTTP requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg APIConfig
			if err := envconfig.Process("certosaurus", &cfg); err != nil {
				return fmt.Errorf("failed to read environment: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Root().PersistentFlags().Changed("db") {
				cfg.DB = dbPath
			}

			log := logrus.WithField("component", "api")
			store, err := OpenStore(cfg.DB, log)
			if err != nil {
				return err
			}
			api := &apiServer{svc: NewService(store, log), log: log}

			addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
			infoColor.Printf("Starting server on %s\n", addr)
			log.WithField("addr", addr).Info("api server listening")
			return http.ListenAndServe(addr, api.routes())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVarP(&host, "host", "H", "0.0.0.0", "Host to listen on")

	return cmd
}

type apiServer struct {
	svc *Service
	log *logrus.Entry
}

func (a *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// CA endpoints
	mux.HandleFunc("POST /ca", a.handleCreateCA)
	mux.HandleFunc("GET /ca", a.handleListCAs)
	mux.HandleFunc("GET /ca/{id}", a.handleGetCA)
	mux.HandleFunc("DELETE /ca/{id}", a.handleDeleteCA)

	// Server cert endpoints
	mux.HandleFunc("POST /cert/server", a.handleCreateServerCert)
	mux.HandleFunc("GET /cert/server", a.handleListServerCerts)
	mux.HandleFunc("GET /cert/server/{id}", a.handleGetServerCert)
	mux.HandleFunc("GET /cert/server/{id}/chain", a.handleDownloadChain)
	mux.HandleFunc("POST /cert/server/{id}/revoke", a.handleRevokeServerCert)
	mux.HandleFunc("DELETE /cert/server/{id}", a.handleDeleteServerCert)

	// Client cert endpoints
	mux.HandleFunc("POST /cert/client", a.handleCreateClientCert)
	mux.HandleFunc("GET /cert/client", a.handleListClientCerts)
	mux.HandleFunc("GET /cert/client/{id}", a.handleGetClientCert)
	mux.HandleFunc("GET /cert/client/{id}/p12", a.handleDownloadP12)
	mux.HandleFunc("POST /cert/client/{id}/revoke", a.handleRevokeClientCert)
	mux.HandleFunc("DELETE /cert/client/{id}", a.handleDeleteClientCert)

	// Dashboard
	mux.HandleFunc("GET /summary", a.handleSummary)

	return mux
}

// API response structures
type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (a *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSAN), errors.Is(err, ErrCodec):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrDependencyExists):
		jsonError(w, http.StatusConflict, err.Error())
	default:
		a.log.WithError(err).Error("request failed")
		jsonError(w, http.StatusInternalServerError, err.Error())
	}
}

type CAResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CommonName     string     `json:"commonName"`
	Type           string     `json:"type"`
	ParentCAID     *string    `json:"parentCaId,omitempty"`
	CertificatePEM string     `json:"certificatePem"`
	PrivateKeyPEM  string     `json:"privateKeyPem,omitempty"`
	SerialNumber   string     `json:"serialNumber"`
	Fingerprint    string     `json:"fingerprintSha256"`
	KeySize        int        `json:"keySize"`
	ValidFrom      time.Time  `json:"validFrom"`
	ValidUntil     time.Time  `json:"validUntil"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func caResponse(ca *CertificateAuthority, withKey bool) CAResponse {
	caType := "root"
	if !ca.IsRoot {
		caType = "intermediate"
	}
	resp := CAResponse{
		ID:             ca.ID,
		Name:           ca.Name,
		CommonName:     ca.CommonName,
		Type:           caType,
		ParentCAID:     ca.ParentCAID,
		CertificatePEM: ca.CertificatePEM,
		SerialNumber:   ca.SerialNumber,
		Fingerprint:    ca.Fingerprint,
		KeySize:        ca.KeySize,
		ValidFrom:      ca.ValidFrom,
		ValidUntil:     ca.ValidUntil,
		CreatedAt:      ca.CreatedAt,
	}
	if withKey {
		resp.PrivateKeyPEM = ca.PrivateKeyPEM
	}
	return resp
}

type ServerCertResponse struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	CommonName          string            `json:"commonName"`
	SANDNSNames         string            `json:"sanDnsNames,omitempty"`
	SANIPAddresses      string            `json:"sanIpAddresses,omitempty"`
	CertificatePEM      string            `json:"certificatePem"`
	PrivateKeyPEM       string            `json:"privateKeyPem,omitempty"`
	CertificateChainPEM string            `json:"certificateChainPem"`
	IssuingCAID         string            `json:"issuingCaId"`
	SerialNumber        string            `json:"serialNumber"`
	Fingerprint         string            `json:"fingerprintSha256"`
	Status              CertificateStatus `json:"status"`
	RevokedAt           *time.Time        `json:"revokedAt,omitempty"`
	RevocationReason    RevocationReason  `json:"revocationReason,omitempty"`
	IsValid             bool              `json:"isValid"`
	ValidFrom           time.Time         `json:"validFrom"`
	ValidUntil          time.Time         `json:"validUntil"`
	CreatedAt           time.Time         `json:"createdAt"`
}

func serverCertResponse(cert *ServerCertificate, withKey bool) ServerCertResponse {
	resp := ServerCertResponse{
		ID:                  cert.ID,
		Name:                cert.Name,
		CommonName:          cert.CommonName,
		SANDNSNames:         cert.SANDNSNames,
		SANIPAddresses:      cert.SANIPAddresses,
		CertificatePEM:      cert.CertificatePEM,
		CertificateChainPEM: cert.CertificateChainPEM,
		IssuingCAID:         cert.IssuingCAID,
		SerialNumber:        cert.SerialNumber,
		Fingerprint:         cert.Fingerprint,
		Status:              cert.Status,
		RevokedAt:           cert.RevokedAt,
		RevocationReason:    cert.RevocationReason,
		IsValid:             cert.IsValid(),
		ValidFrom:           cert.ValidFrom,
		ValidUntil:          cert.ValidUntil,
		CreatedAt:           cert.CreatedAt,
	}
	if withKey {
		resp.PrivateKeyPEM = cert.PrivateKeyPEM
	}
	return resp
}

type ClientCertResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	CommonName       string            `json:"commonName"`
	Email            string            `json:"email,omitempty"`
	CertificatePEM   string            `json:"certificatePem"`
	PrivateKeyPEM    string            `json:"privateKeyPem,omitempty"`
	HasPKCS12        bool              `json:"hasPkcs12"`
	P12Password      string            `json:"p12Password,omitempty"`
	IssuingCAID      string            `json:"issuingCaId"`
	SerialNumber     string            `json:"serialNumber"`
	Fingerprint      string            `json:"fingerprintSha256"`
	Status           CertificateStatus `json:"status"`
	RevokedAt        *time.Time        `json:"revokedAt,omitempty"`
	RevocationReason RevocationReason  `json:"revocationReason,omitempty"`
	IsValid          bool              `json:"isValid"`
	ValidFrom        time.Time         `json:"validFrom"`
	ValidUntil       time.Time         `json:"validUntil"`
	CreatedAt        time.Time         `json:"createdAt"`
}

func clientCertResponse(cert *ClientCertificate, withSecrets bool) ClientCertResponse {
	resp := ClientCertResponse{
		ID:             cert.ID,
		Name:           cert.Name,
		CommonName:     cert.CommonName,
		Email:          cert.Email,
		CertificatePEM: cert.CertificatePEM,
		HasPKCS12:      len(cert.P12Bundle) > 0,
		IssuingCAID:    cert.IssuingCAID,
		SerialNumber:   cert.SerialNumber,
		Fingerprint:    cert.Fingerprint,
		Status:         cert.Status,
		RevokedAt:      cert.RevokedAt,
		RevocationReason: cert.RevocationReason,
		IsValid:        cert.IsValid(),
		ValidFrom:      cert.ValidFrom,
		ValidUntil:     cert.ValidUntil,
		CreatedAt:      cert.CreatedAt,
	}
	if withSecrets {
		resp.PrivateKeyPEM = cert.PrivateKeyPEM
		resp.P12Password = cert.P12Password
	}
	return resp
}

type revokeRequest struct {
	Reason RevocationReason `json:"reason"`
}

func (a *apiServer) handleCreateCA(w http.ResponseWriter, r *http.Request) {
	var req CreateCARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ca, err := a.svc.IssueCA(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, SuccessResponse{
		Message: "CA created successfully",
		Data:    caResponse(ca, true),
	})
}

func (a *apiServer) handleListCAs(w http.ResponseWriter, r *http.Request) {
	cas, err := a.svc.Store().ListCAs(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	out := make([]CAResponse, len(cas))
	for i, ca := range cas {
		out[i] = caResponse(ca, false)
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{
		Message: "CAs listed successfully",
		Data:    out,
	})
}

func (a *apiServer) handleGetCA(w http.ResponseWriter, r *http.Request) {
	ca, err := a.svc.Store().GetCA(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Data: caResponse(ca, false)})
}

func (a *apiServer) handleDeleteCA(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteCA(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Message: "CA deleted successfully"})
}

func (a *apiServer) handleCreateServerCert(w http.ResponseWriter, r *http.Request) {
	var req CreateServerCertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cert, err := a.svc.IssueServerCertificate(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, SuccessResponse{
		Message: "Server certificate created successfully",
		Data:    serverCertResponse(cert, true),
	})
}

func (a *apiServer) handleListServerCerts(w http.ResponseWriter, r *http.Request) {
	certs, err := a.svc.Store().ListServerCertificates(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	out := make([]ServerCertResponse, len(certs))
	for i, cert := range certs {
		out[i] = serverCertResponse(cert, false)
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{
		Message: "Server certificates listed successfully",
		Data:    out,
	})
}

func (a *apiServer) handleGetServerCert(w http.ResponseWriter, r *http.Request) {
	cert, err := a.svc.Store().GetServerCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Data: serverCertResponse(cert, false)})
}

func (a *apiServer) handleDownloadChain(w http.ResponseWriter, r *http.Request) {
	cert, err := a.svc.Store().GetServerCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cert.Name+"-fullchain.crt"))
	w.Write([]byte(cert.CertificateChainPEM))
}

func (a *apiServer) handleRevokeServerCert(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = ReasonUnspecified
	}

	cert, err := a.svc.RevokeServerCertificate(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, SuccessResponse{
		Message: "Server certificate revoked",
		Data:    serverCertResponse(cert, false),
	})
}

func (a *apiServer) handleDeleteServerCert(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Store().DeleteServerCertificate(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Message: "Server certificate deleted"})
}

func (a *apiServer) handleCreateClientCert(w http.ResponseWriter, r *http.Request) {
	var req CreateClientCertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cert, err := a.svc.IssueClientCertificate(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, SuccessResponse{
		Message: "Client certificate created successfully",
		Data:    clientCertResponse(cert, true),
	})
}

func (a *apiServer) handleListClientCerts(w http.ResponseWriter, r *http.Request) {
	certs, err := a.svc.Store().ListClientCertificates(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	out := make([]ClientCertResponse, len(certs))
	for i, cert := range certs {
		out[i] = clientCertResponse(cert, false)
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{
		Message: "Client certificates listed successfully",
		Data:    out,
	})
}

func (a *apiServer) handleGetClientCert(w http.ResponseWriter, r *http.Request) {
	cert, err := a.svc.Store().GetClientCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Data: clientCertResponse(cert, false)})
}

func (a *apiServer) handleDownloadP12(w http.ResponseWriter, r *http.Request) {
	cert, err := a.svc.Store().GetClientCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if len(cert.P12Bundle) == 0 {
		jsonError(w, http.StatusNotFound, "no PKCS#12 bundle for this certificate")
		return
	}

	w.Header().Set("Content-Type", "application/x-pkcs12")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cert.Name+".p12"))
	w.Write(cert.P12Bundle)
}

func (a *apiServer) handleRevokeClientCert(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = ReasonUnspecified
	}

	cert, err := a.svc.RevokeClientCertificate(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, SuccessResponse{
		Message: "Client certificate revoked",
		Data:    clientCertResponse(cert, false),
	})
}

func (a *apiServer) handleDeleteClientCert(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Store().DeleteClientCertificate(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Message: "Client certificate deleted"})
}

func (a *apiServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.Summary(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Data: sum})
}
