// Package certs generates the self-signed ECDSA P-256 certificate the
// control server's HTTP/3 listener presents. Clients are expected to pin
// the SHA-256 fingerprint rather than chase a CA chain.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"time"
)

const defaultValidity = 14 * 24 * time.Hour

// Cert bundles a TLS certificate with its SHA-256 fingerprint and expiry,
// the two things a fingerprint-pinning client needs to know.
type Cert struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64, the form
// logged at startup and pasted into clients that pin it.
func (c *Cert) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// Generate creates a self-signed ECDSA P-256 certificate for localhost
// and the given extra hosts, valid for the given duration. A
// non-positive validity falls back to 14 days.
func Generate(validity time.Duration, hosts ...string) (*Cert, error) {
	if validity <= 0 {
		validity = defaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	// Backdate a minute so a freshly generated cert survives clock skew
	// between the server and a pinning client.
	notBefore := time.Now().Add(-1 * time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "ovi-control"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &Cert{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    template.NotAfter,
	}, nil
}
