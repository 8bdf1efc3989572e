package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fleetwatch-test"},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestParseClientAuthType(t *testing.T) {
	tests := []struct {
		in      string
		want    tls.ClientAuthType
		wantErr bool
	}{
		{"", tls.NoClientCert, false},
		{"none", tls.NoClientCert, false},
		{"request", tls.RequestClientCert, false},
		{"require", tls.RequireAndVerifyClientCert, false},
		{"always", tls.NoClientCert, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClientAuthType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerConfig_Credentials(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)

	creds, err := ServerConfig{}.Credentials()
	require.NoError(t, err)
	assert.Nil(t, creds)

	creds, err = ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)

	creds, err = ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientAuth: "require", CAFile: certFile}.Credentials()
	require.NoError(t, err)
	assert.NotNil(t, creds)

	_, err = ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientAuth: "require"}.Credentials()
	assert.Error(t, err)

	_, err = ServerConfig{Enabled: true, CertFile: "missing.pem", KeyFile: keyFile}.Credentials()
	assert.Error(t, err)
}

func TestLoadClientCredentials(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)

	creds, err := LoadClientCredentials("", "", certFile, "localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", creds.Info().ServerName)

	_, err = LoadClientCredentials(certFile, keyFile, certFile, "")
	require.NoError(t, err)

	_, err = LoadClientCredentials(certFile, "", "", "")
	assert.Error(t, err)
}
