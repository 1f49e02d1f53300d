package download

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrPinMismatch is returned when a server certificate does not match any pin.
var ErrPinMismatch = errors.New("certificate does not match pinned key")

// CertificatePinner decides whether a verified chain is acceptable for host.
type CertificatePinner interface {
	Verify(host string, chain []*x509.Certificate) error
}

// PinnerFunc adapts a function to CertificatePinner.
type PinnerFunc func(host string, chain []*x509.Certificate) error

// Verify calls f.
func (f PinnerFunc) Verify(host string, chain []*x509.Certificate) error {
	return f(host, chain)
}

// SPKIPinner pins hosts to SHA-256 digests of the leaf SubjectPublicKeyInfo,
// hex encoded. Hosts without pins are refused.
type SPKIPinner map[string][]string

// Verify implements CertificatePinner.
func (p SPKIPinner) Verify(host string, chain []*x509.Certificate) error {
	pins, ok := p[strings.ToLower(host)]
	if !ok || len(pins) == 0 {
		return fmt.Errorf("%w: no pin configured for %s", ErrPinMismatch, host)
	}
	if len(chain) == 0 {
		return fmt.Errorf("%w: %s presented no certificate", ErrPinMismatch, host)
	}
	got := SPKIHash(chain[0])
	for _, pin := range pins {
		if strings.EqualFold(pin, got) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s presented %s", ErrPinMismatch, host, got)
}

// SPKIHash returns the hex SHA-256 of the certificate's public key info.
func SPKIHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}

// pinnedCipherSuites are the only TLS 1.2 suites offered. TLS 1.3 suites are
// not configurable and are all AEAD.
var pinnedCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// ClientOptions configures NewPinnedClient.
type ClientOptions struct {
	// Timeout bounds every request, including reading the body.
	Timeout time.Duration
	// RootCAs overrides the system roots (used by tests).
	RootCAs *x509.CertPool
	// UserAgent is sent with every request.
	UserAgent string
}

// NewPinnedClient returns an HTTP client whose connections must pass normal
// chain verification and then the pinner.
func NewPinnedClient(pinner CertificatePinner, opts ClientOptions) (*http.Client, error) {
	if pinner == nil {
		return nil, fmt.Errorf("certificate pinner is required")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: pinnedCipherSuites,
		RootCAs:      opts.RootCAs,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return pinner.Verify(cs.ServerName, cs.PeerCertificates)
		},
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        4,
		IdleConnTimeout:     30 * time.Second,
	}

	var rt http.RoundTripper = transport
	if opts.UserAgent != "" {
		rt = userAgentTransport{agent: opts.UserAgent, next: transport}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "https" {
				return fmt.Errorf("refusing redirect to %s", req.URL.Scheme)
			}
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}, nil
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}
