package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(config.TLSConfig{}, t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupAutoGenerateServesHTTPS(t *testing.T) {
	base := t.TempDir()
	c, err := Setup(config.TLSConfig{Enabled: true, Dir: "certs", AutoGenerate: true}, base)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)

	certPath := filepath.Join(base, "certs", tlsCrt)
	assert.FileExists(t, certPath)
	info, err := os.Stat(filepath.Join(base, "certs", tlsKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.Serve(tls.NewListener(ln, c)) }()
	defer func() { _ = srv.Close() }()

	pemBytes, err := os.ReadFile(certPath)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pemBytes))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}}
	resp, err := client.Get("https://" + ln.Addr().String())
	require.NoError(t, err, "generated certificate must verify for 127.0.0.1")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetupErrors(t *testing.T) {
	_, err := Setup(config.TLSConfig{Enabled: true}, "")
	assert.Error(t, err)

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir()}, "")
	assert.Error(t, err, "missing files without auto-generate")

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"}, "")
	assert.Error(t, err)
}

func TestExistingPairIsReused(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateSelfSignedCert(CertConfig{CertPath: filepath.Join(dir, tlsCrt), KeyPath: filepath.Join(dir, tlsKey), NotAfter: time.Now().Add(24 * time.Hour)}))
	before, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	require.NoError(t, err)

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3"}, "")
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
