package wsaa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/smallstep/pkcs7"
)

// Signer produces a CMS envelope (DER) carrying the signed content
type Signer interface {
	Sign(ctx context.Context, content []byte) ([]byte, error)
}

// SignerFunc adapts a function to Signer
type SignerFunc func(ctx context.Context, content []byte) ([]byte, error)

// Sign calls f
func (f SignerFunc) Sign(ctx context.Context, content []byte) ([]byte, error) {
	return f(ctx, content)
}

// OpenSSLSigner shells out to `openssl smime`
type OpenSSLSigner struct {
	Binary   string
	CertPath string
	KeyPath  string
	Timeout  time.Duration
}

// NewOpenSSLSigner creates a signer using the openssl binary on PATH
func NewOpenSSLSigner(certPath, keyPath string) *OpenSSLSigner {
	return &OpenSSLSigner{
		Binary:   "openssl",
		CertPath: certPath,
		KeyPath:  keyPath,
		Timeout:  30 * time.Second,
	}
}

// Sign runs openssl smime -sign with the content attached
func (s *OpenSSLSigner) Sign(ctx context.Context, content []byte) ([]byte, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Binary,
		"smime", "-sign",
		"-signer", s.CertPath,
		"-inkey", s.KeyPath,
		"-outform", "DER",
		"-nodetach",
		"-binary",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(content)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, signingError(fmt.Errorf("openssl smime: %w: %s", err, strings.TrimSpace(stderr.String())))
	}
	if stdout.Len() == 0 {
		return nil, signingError(errors.New("openssl smime produced no output"))
	}
	return stdout.Bytes(), nil
}

// PKCS7Signer signs in-process with a PEM certificate and private key
type PKCS7Signer struct {
	cert *x509.Certificate
	key  crypto.PrivateKey
}

// LoadPKCS7Signer reads a PEM certificate and a PKCS#1/PKCS#8/EC private key
func LoadPKCS7Signer(certPath, keyPath string) (*PKCS7Signer, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, signingError(fmt.Errorf("read certificate: %w", err))
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, signingError(fmt.Errorf("read private key: %w", err))
	}
	return NewPKCS7Signer(certPEM, keyPEM)
}

// NewPKCS7Signer builds a signer from PEM-encoded material
func NewPKCS7Signer(certPEM, keyPEM []byte) (*PKCS7Signer, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, signingError(errors.New("certificate is not PEM encoded"))
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, signingError(fmt.Errorf("parse certificate: %w", err))
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, signingError(errors.New("private key is not PEM encoded"))
	}
	key, err := parsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, signingError(err)
	}

	return &PKCS7Signer{cert: cert, key: key}, nil
}

func parsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unsupported private key format")
}

// Sign returns a SHA-256 SignedData envelope with the content attached
func (s *PKCS7Signer) Sign(ctx context.Context, content []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, signingError(err)
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, signingError(fmt.Errorf("init signed data: %w", err))
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(s.cert, s.key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, signingError(fmt.Errorf("add signer: %w", err))
	}

	der, err := sd.Finish()
	if err != nil {
		return nil, signingError(fmt.Errorf("finish signed data: %w", err))
	}
	return der, nil
}
