package connector

import (
	"crypto/tls"
	"errors"
	"fmt"
)

// TLSConfig is a fluent *tls.Config builder for a Connector's
// Config.TLSConfig field: same NewConfig/With*/Build shape as the rest
// of relay's fluent config types, trimmed to the manual-certificate
// path. GetCertificate is left settable directly so a caller can still
// plug in autocert or any other certificate source without this package
// hand-rolling an ACME client of its own.
type TLSConfig struct {
	certFile, keyFile string
	getCertificate    func(*tls.ClientHelloInfo) (*tls.Certificate, error)

	minVersion, maxVersion uint16
	cipherSuites           []uint16
	clientAuth             tls.ClientAuthType
	nextProtos             []string
}

// defaultCipherSuites mirrors the teacher's strong-modern-only list.
var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// NewTLSConfig returns a builder preloaded with the teacher's secure
// defaults: TLS 1.2 floor, TLS 1.3 ceiling, the cipher suite list above,
// and NextProtos advertising both h2 and http/1.1 (a TLS Connector's
// Factories list should carry a Factory/AltNames pair for anything named
// here — see negotiateTLS).
func NewTLSConfig() *TLSConfig {
	return &TLSConfig{
		minVersion:   tls.VersionTLS12,
		maxVersion:   tls.VersionTLS13,
		cipherSuites: defaultCipherSuites,
		nextProtos:   []string{"h2", "http/1.1"},
	}
}

// WithManualCert points the builder at a certificate/key file pair on
// disk, reloaded fresh every time Build is called.
func (c *TLSConfig) WithManualCert(certFile, keyFile string) *TLSConfig {
	c.certFile, c.keyFile = certFile, keyFile
	return c
}

// WithGetCertificate installs a certificate source other than a static
// file pair — golang.org/x/crypto/acme/autocert.Manager.GetCertificate is
// the expected caller for a Connector that wants Let's Encrypt-issued
// certificates rather than a manually provisioned one.
func (c *TLSConfig) WithGetCertificate(fn func(*tls.ClientHelloInfo) (*tls.Certificate, error)) *TLSConfig {
	c.getCertificate = fn
	return c
}

func (c *TLSConfig) WithALPN(protos ...string) *TLSConfig {
	c.nextProtos = protos
	return c
}

func (c *TLSConfig) WithClientAuth(authType tls.ClientAuthType) *TLSConfig {
	c.clientAuth = authType
	return c
}

func (c *TLSConfig) WithMinVersion(v uint16) *TLSConfig {
	c.minVersion = v
	return c
}

// Build produces the *tls.Config a Connector's Config.TLSConfig field
// expects. Exactly one of WithManualCert/WithGetCertificate must have
// been called.
func (c *TLSConfig) Build() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:   c.minVersion,
		MaxVersion:   c.maxVersion,
		CipherSuites: c.cipherSuites,
		ClientAuth:   c.clientAuth,
		NextProtos:   c.nextProtos,
	}
	switch {
	case c.getCertificate != nil:
		cfg.GetCertificate = c.getCertificate
	case c.certFile != "" && c.keyFile != "":
		cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
		if err != nil {
			return nil, fmt.Errorf("connector: load certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	default:
		return nil, errors.New("connector: TLSConfig needs WithManualCert or WithGetCertificate")
	}
	return cfg, nil
}
