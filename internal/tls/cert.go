package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// SelfSigned describes a generated certificate. Empty names default to localhost.
type SelfSigned struct {
	CommonName string
	DNSNames   []string
	IPs        []string
	ValidFor   time.Duration
	CertPath   string
	KeyPath    string
}

// GenerateSelfSigned writes an ECDSA P-256 key and a matching self-signed
// certificate in PEM form.
func GenerateSelfSigned(s SelfSigned) error {
	if s.CommonName == "" {
		s.CommonName = "localhost"
	}
	if len(s.DNSNames) == 0 {
		s.DNSNames = []string{"localhost"}
	}
	if len(s.IPs) == 0 {
		s.IPs = []string{"127.0.0.1", "::1"}
	}
	if s.ValidFor <= 0 {
		s.ValidFor = 5 * 365 * 24 * time.Hour
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 126))
	if err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: s.CommonName, Organization: []string{"hashvisr"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(s.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              s.DNSNames,
	}
	for _, ip := range s.IPs {
		if p := net.ParseIP(ip); p != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, p)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	if err := writePEM(s.CertPath, "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	return writePEM(s.KeyPath, "PRIVATE KEY", keyDER, 0o600)
}

func writePEM(path, typ string, der []byte, mode os.FileMode) error {
	b := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, b, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
