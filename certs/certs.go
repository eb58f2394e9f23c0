// certs.go — TLS material for the QUIC listener
//
// Production deployments hand in PEM files via --cert/--key. When both are
// absent the server mints an in-memory self-signed ECDSA P-256 certificate
// for localhost so a dev instance starts with zero ceremony; nothing is
// written to disk.

package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"main/constants"
)

// Load resolves the server certificate from the given paths, or self-signs
// when both are empty. Errors are fatal-init.
func Load(certPath, keyPath string) (tls.Certificate, error) {
	if certPath == "" && keyPath == "" {
		return selfSigned()
	}
	return tls.LoadX509KeyPair(certPath, keyPath)
}

// Config builds the server TLS config around the resolved certificate:
// TLS 1.3, server-authenticated only, canvas ALPN.
func Config(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{constants.ALPN},
	}
}

// selfSigned generates a throwaway localhost certificate valid for a year.
func selfSigned() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
