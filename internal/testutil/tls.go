// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TLSFixture is a throwaway gateway identity plus a client credential.
type TLSFixture struct {
	// ServerConfig serves on loopback and requires a client certificate.
	ServerConfig *tls.Config
	// CAFile trusts the server certificate.
	CAFile string
	// ClientCertFile is a combined cert+key PEM.
	ClientCertFile string
}

// NewTLSFixture writes the fixture files under t.TempDir().
func NewTLSFixture(t testing.TB) *TLSFixture {
	t.Helper()
	dir := t.TempDir()

	serverCertPEM, serverKeyPEM := selfSigned(t, "gateway.test", true)
	clientCertPEM, clientKeyPEM := selfSigned(t, "relay-client", false)

	serverCert, err := tls.X509KeyPair(serverCertPEM, serverKeyPEM)
	if err != nil {
		t.Fatalf("server key pair: %v", err)
	}

	caFile := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caFile, serverCertPEM, 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	clientFile := filepath.Join(dir, "client.pem")
	combined := append(append([]byte(nil), clientCertPEM...), clientKeyPEM...)
	if err := os.WriteFile(clientFile, combined, 0o600); err != nil {
		t.Fatalf("write client cert: %v", err)
	}

	return &TLSFixture{
		ServerConfig: &tls.Config{
			Certificates: []tls.Certificate{serverCert},
			ClientAuth:   tls.RequireAnyClientCert,
			MinVersion:   tls.VersionTLS12,
		},
		CAFile:         caFile,
		ClientCertFile: clientFile,
	}
}

func selfSigned(t testing.TB, cn string, server bool) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	if server {
		tmpl.IsCA = true
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		tmpl.DNSNames = []string{cn, "localhost"}
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}
