package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/markb/firelite/internal/log"
	"golang.org/x/crypto/acme/autocert"
)

// HTTPSConfig configures automatic certificates for a public domain.
type HTTPSConfig struct {
	Domain   string // certificate domain
	CertDir  string // certificate cache directory
	HTTPAddr string // plain listener for ACME challenges and redirects, default ":80"
	TLSAddr  string // TLS listener, default ":443"
}

// ValidateDomain rejects names Let's Encrypt will not issue for.
func ValidateDomain(domain string) error {
	if domain == "" {
		return errors.New("domain required for HTTPS")
	}

	if strings.EqualFold(domain, "localhost") {
		return errors.New("automatic certificates need a public domain, not localhost")
	}
	if net.ParseIP(domain) != nil || (strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]")) {
		return errors.New("automatic certificates need a domain name, not an IP address")
	}

	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") ||
		strings.HasPrefix(domain, "-") || strings.HasSuffix(domain, "-") ||
		strings.Contains(domain, "..") {
		return fmt.Errorf("invalid domain format: %s", domain)
	}
	return nil
}

// NewAutocertManager caches certificates for domain under certDir.
func NewAutocertManager(domain, certDir string) *autocert.Manager {
	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domain),
		Cache:      autocert.DirCache(certDir),
	}
}

func NewTLSConfig(manager *autocert.Manager) *tls.Config {
	return &tls.Config{
		GetCertificate: manager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

// HTTPRedirectHandler sends every request to the https:// URL on domain.
// Wrap it with autocert.Manager.HTTPHandler so ACME challenges still reach
// the manager.
func HTTPRedirectHandler(domain string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

// ListenAndServeTLS serves the router over TLS with certificates from
// Let's Encrypt, plus a plain listener that answers ACME challenges and
// redirects everything else. It blocks until the TLS server stops.
func (s *Server) ListenAndServeTLS(cfg HTTPSConfig) error {
	if err := ValidateDomain(cfg.Domain); err != nil {
		return err
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":80"
	}
	if cfg.TLSAddr == "" {
		cfg.TLSAddr = ":443"
	}

	s.autocertMgr = NewAutocertManager(cfg.Domain, cfg.CertDir)
	s.httpRedirect = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.autocertMgr.HTTPHandler(HTTPRedirectHandler(cfg.Domain)),
	}
	s.httpsServer = &http.Server{
		Addr:      cfg.TLSAddr,
		Handler:   s.router,
		TLSConfig: NewTLSConfig(s.autocertMgr),
	}

	go func() {
		if err := s.httpRedirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server: redirect listener failed", "addr", cfg.HTTPAddr, "error", err.Error())
		}
	}()

	log.Info("server: serving HTTPS", "domain", cfg.Domain, "addr", cfg.TLSAddr, "redirect_addr", cfg.HTTPAddr)
	// Certificates come from TLSConfig.GetCertificate.
	return s.httpsServer.ListenAndServeTLS("", "")
}
