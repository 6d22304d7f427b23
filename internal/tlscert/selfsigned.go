package tlscert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTTL is the validity of generated certificates
const DefaultTTL = 365 * 24 * time.Hour

// Certificate is a PEM encoded certificate and private key
type Certificate struct {
	CertPEM     []byte
	KeyPEM      []byte
	Serial      string
	NotAfter    time.Time
	Fingerprint string
}

// IssueSelfSigned creates a self-signed server certificate for host,
// which may be a DNS name or an IP address.
func IssueSelfSigned(host string, ttl time.Duration) (*Certificate, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}

	host = strings.TrimSpace(host)
	cn := host
	if cn == "" || cn == "0.0.0.0" || cn == "::" {
		cn = "localhost"
	}

	tmpl := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"PaperMC Setup"},
		},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(ttl),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if ip := net.ParseIP(cn); ip != nil {
		if !ip.IsLoopback() {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		}
	} else if cn != "localhost" {
		tmpl.DNSNames = append(tmpl.DNSNames, cn)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create cert: %w", err)
	}

	h := sha256.Sum256(der)
	return &Certificate{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		Serial:      fmt.Sprintf("%x", serialNumber),
		NotAfter:    tmpl.NotAfter,
		Fingerprint: fmt.Sprintf("%x", h[:]),
	}, nil
}

// EnsureSelfSigned writes a self-signed certificate to certFile and keyFile unless
// a certificate that is still valid for at least a day already exists there.
func EnsureSelfSigned(certFile, keyFile, host string) error {
	if notAfter, err := readExpiry(certFile); err == nil {
		if _, keyErr := os.Stat(keyFile); keyErr == nil && time.Until(notAfter) > 24*time.Hour {
			return nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cert, err := IssueSelfSigned(host, DefaultTTL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(certFile), 0755); err != nil {
		return fmt.Errorf("create cert directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyFile, cert.KeyPEM, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certFile, cert.CertPEM, 0644); err != nil {
		return fmt.Errorf("write cert: %w", err)
	}

	log.Printf("[TLS] Generated self-signed certificate %s (sha256 %s, expires %s)", certFile, cert.Fingerprint, cert.NotAfter.Format(time.RFC3339))
	return nil
}

func readExpiry(certFile string) (time.Time, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return time.Time{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return time.Time{}, fmt.Errorf("%s does not contain a PEM certificate", certFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", certFile, err)
	}
	return cert.NotAfter, nil
}
