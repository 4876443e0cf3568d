package apns

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// TLSOptions describes the client side of the upstream TLS session.
type TLSOptions struct {
	// CertFile holds the PEM client certificate. If KeyFile is empty the
	// private key is read from the same file (combined .pem export).
	CertFile string
	KeyFile  string

	// CAFile adds trusted roots on top of the system pool.
	CAFile string

	// ServerName overrides the name used for certificate verification.
	// Empty means the gateway host.
	ServerName string
}

// LoadCredential reads the client certificate and key.
func LoadCredential(certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate %s: %w", certFile, err)
	}
	keyPEM := certPEM
	if strings.TrimSpace(keyFile) != "" {
		keyPEM, err = os.ReadFile(keyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("read key %s: %w", keyFile, err)
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse credential %s: %w", certFile, err)
	}
	return cert, nil
}

// ClientTLSConfig builds the tls.Config used by Dialer.
// System roots are always trusted; CAFile adds more.
func ClientTLSConfig(opts TLSOptions, host string) (*tls.Config, error) {
	cert, err := LoadCredential(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, err
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if ca := strings.TrimSpace(opts.CAFile); ca != "" {
		caPEM, err := os.ReadFile(ca)
		if err != nil {
			return nil, fmt.Errorf("read CA file %s: %w", ca, err)
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse CA certificate from %s: invalid PEM data", ca)
		}
	}

	serverName := strings.TrimSpace(opts.ServerName)
	if serverName == "" {
		serverName = host
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      rootCAs,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
