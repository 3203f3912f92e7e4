package certs

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	x, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return x
}

func TestFileManager_GetOrCreateCertificate(t *testing.T) {
	tests := []struct {
		setup         func(t *testing.T, certDir string)
		validate      func(t *testing.T, m *FileManager, cert *x509.Certificate)
		name          string
		errorContains string
		wantErr       bool
	}{
		{
			name: "creates certificate when none exists",
			validate: func(t *testing.T, m *FileManager, cert *x509.Certificate) {
				t.Helper()
				assert.Equal(t, "ledger-intake", cert.Subject.Organization[0])
				assert.Contains(t, cert.DNSNames, "localhost")
				assert.True(t, cert.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
				assert.NoError(t, cert.VerifyHostname("localhost"))
				assert.True(t, cert.NotAfter.After(time.Now().Add(364*24*time.Hour)))

				info, err := os.Stat(m.keyFile)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			},
		},
		{
			name: "reuses existing certificate",
			setup: func(t *testing.T, certDir string) {
				t.Helper()
				_, err := NewFileManager(certDir).GetOrCreateCertificate()
				require.NoError(t, err)
			},
			validate: func(t *testing.T, m *FileManager, cert *x509.Certificate) {
				t.Helper()
				stored, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
				require.NoError(t, err)
				assert.Equal(t, leaf(t, stored).SerialNumber, cert.SerialNumber)
			},
		},
		{
			name: "regenerates unreadable certificate",
			setup: func(t *testing.T, certDir string) {
				t.Helper()
				require.NoError(t, os.MkdirAll(certDir, 0700))
				require.NoError(t, os.WriteFile(filepath.Join(certDir, "intake.crt"), []byte("garbage"), 0600))
				require.NoError(t, os.WriteFile(filepath.Join(certDir, "intake.key"), []byte("garbage"), 0600))
			},
			validate: func(t *testing.T, _ *FileManager, cert *x509.Certificate) {
				t.Helper()
				assert.True(t, cert.NotBefore.After(time.Now().Add(-2*time.Minute)))
			},
		},
		{
			name: "fails when the directory is a file",
			setup: func(t *testing.T, certDir string) {
				t.Helper()
				require.NoError(t, os.MkdirAll(filepath.Dir(certDir), 0700))
				require.NoError(t, os.WriteFile(certDir, []byte("not a directory"), 0600))
			},
			wantErr:       true,
			errorContains: "failed to check certificate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certDir := filepath.Join(t.TempDir(), "certs")
			if tt.setup != nil {
				tt.setup(t, certDir)
			}

			m := NewFileManager(certDir)
			cert, err := m.GetOrCreateCertificate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			tt.validate(t, m, leaf(t, cert))
		})
	}
}

func TestFileManager_RenewsNearExpiry(t *testing.T) {
	certDir := t.TempDir()
	m := NewFileManager(certDir)
	first, err := m.GetOrCreateCertificate()
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(DefaultValidity - 24*time.Hour) }
	second, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	assert.NotEqual(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber)
}

func TestFileManager_RegeneratesForNewHosts(t *testing.T) {
	certDir := t.TempDir()
	first, err := NewFileManager(certDir).GetOrCreateCertificate()
	require.NoError(t, err)

	second, err := NewFileManager(certDir, "intake.lan").GetOrCreateCertificate()
	require.NoError(t, err)
	assert.NotEqual(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber)
	assert.Equal(t, []string{"intake.lan"}, leaf(t, second).DNSNames)
}

func TestFileManager_TLSConfig(t *testing.T) {
	m := NewFileManager(t.TempDir())
	cfg, err := m.TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	exists, err := m.CertificateExists()
	require.NoError(t, err)
	assert.True(t, exists)
	assert.FileExists(t, m.CertFile())
}
