package wsaa

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallstep/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCertificate(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "infofiscal",
			SerialNumber: "CUIT 20321518045",
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func TestPKCS7Signer_Sign(t *testing.T) {
	certPEM, keyPEM := generateTestCertificate(t)
	signer, err := NewPKCS7Signer(certPEM, keyPEM)
	require.NoError(t, err)

	content, err := BuildTicket("wsfe", time.Now(), time.Hour, time.Minute).Marshal()
	require.NoError(t, err)

	der, err := signer.Sign(context.Background(), content)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	assert.Equal(t, content, p7.Content)
	require.NoError(t, p7.Verify())
	require.Len(t, p7.Certificates, 1)
	assert.Equal(t, "infofiscal", p7.Certificates[0].Subject.CommonName)
}

func TestLoadPKCS7Signer(t *testing.T) {
	certPEM, keyPEM := generateTestCertificate(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.crt")
	keyPath := filepath.Join(dir, "private.key")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	t.Run("valid files", func(t *testing.T) {
		signer, err := LoadPKCS7Signer(certPath, keyPath)
		require.NoError(t, err)
		assert.NotNil(t, signer)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := LoadPKCS7Signer(certPath, filepath.Join(dir, "absent.key"))
		assert.ErrorIs(t, err, ErrSigning)
	})

	t.Run("key is not pem", func(t *testing.T) {
		_, err := NewPKCS7Signer(certPEM, []byte("not a key"))
		assert.ErrorIs(t, err, ErrSigning)
	})

	t.Run("certificate is not pem", func(t *testing.T) {
		_, err := NewPKCS7Signer([]byte("not a cert"), keyPEM)
		assert.ErrorIs(t, err, ErrSigning)
	})
}

func TestPKCS7Signer_CancelledContext(t *testing.T) {
	certPEM, keyPEM := generateTestCertificate(t)
	signer, err := NewPKCS7Signer(certPEM, keyPEM)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = signer.Sign(ctx, []byte("<loginTicketRequest/>"))
	assert.ErrorIs(t, err, ErrSigning)
	assert.True(t, errors.Is(err, ErrSigning))
}

func TestOpenSSLSigner_MissingBinary(t *testing.T) {
	signer := NewOpenSSLSigner("cert.crt", "private.key")
	signer.Binary = filepath.Join(t.TempDir(), "no-such-openssl")

	_, err := signer.Sign(context.Background(), []byte("<loginTicketRequest/>"))
	assert.ErrorIs(t, err, ErrSigning)
}
