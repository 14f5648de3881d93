// Package transport builds the TLS gRPC server that carries RecordService.
package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
)

// TLSConfig locates the server certificate
type TLSConfig struct {
	CertFile string
	KeyFile  string
	// AutoGenerate creates a self-signed certificate when no files are set
	AutoGenerate bool
	// Hosts are the names put into a generated certificate
	Hosts []string
}

// ServerTLSConfig loads or generates the server certificate. Only TLS 1.2
// and newer are offered.
func ServerTLSConfig(cfg TLSConfig, logger *zap.Logger) (*tls.Config, error) {
	var cert tls.Certificate
	switch {
	case cfg.CertFile != "" && cfg.KeyFile != "":
		loaded, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		cert = loaded
		logger.Info("Loaded TLS certificate", zap.String("cert_file", cfg.CertFile))
	case cfg.AutoGenerate:
		generated, _, err := GenerateSelfSigned(cfg.Hosts, 365*24*time.Hour)
		if err != nil {
			return nil, err
		}
		cert = generated
		logger.Warn("Using a self-signed TLS certificate", zap.Strings("hosts", cfg.Hosts))
	default:
		return nil, fmt.Errorf("tls: cert_file and key_file are required unless auto_generate is set")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"h2"},
	}, nil
}

// GenerateSelfSigned creates an ECDSA P-256 certificate for hosts. It
// returns the key pair and the PEM certificate for client trust stores.
func GenerateSelfSigned(hosts []string, validFor time.Duration) (tls.Certificate, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"recordbase"}, CommonName: "recordbase"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return cert, certPEM, nil
}

// WriteSelfSigned writes a generated certificate and key to disk
func WriteSelfSigned(certFile, keyFile string, hosts []string, validFor time.Duration) error {
	cert, certPEM, err := GenerateSelfSigned(hosts, validFor)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600)
}
