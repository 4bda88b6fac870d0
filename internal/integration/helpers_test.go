package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/ucb-deployer/internal/api/webhook"
	"github.com/oshokin/ucb-deployer/internal/config"
	"github.com/oshokin/ucb-deployer/internal/logger"
	"github.com/oshokin/ucb-deployer/internal/notification"
	"github.com/oshokin/ucb-deployer/internal/signature"
)

const testSecret = "integration-secret"

// reservePort returns a free localhost address.
func reservePort(t *testing.T) string {
	t.Helper()

	var lc net.ListenConfig

	l, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// observedContext returns a context carrying a logger that records every entry.
func observedContext(t *testing.T) (context.Context, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)

	return logger.ToContext(context.Background(), zap.New(core).Sugar()), logs
}

// testConfig lays out every writable path under one temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Secret = testSecret
	cfg.Listen = "127.0.0.1:0"
	cfg.LockFile = filepath.Join(root, "ucb-deployer.pid")
	cfg.Paths = config.Paths{
		Staging:       filepath.Join(root, "tmp"),
		Output:        filepath.Join(root, "output"),
		Archives:      filepath.Join(root, "output", "archives"),
		Accompaniment: filepath.Join(root, "resources", "accompaniment"),
		Journal:       filepath.Join(root, "ucb-deployer.db"),
	}
	cfg.Notifications.Enabled = false
	cfg.Metrics.Enabled = true

	return cfg
}

// zipOf builds an in-memory zip holding files keyed by slash path.
func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)

		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// artifactServer serves zips registered by path.
type artifactServer struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string][]byte
}

func newArtifactServer(t *testing.T) *artifactServer {
	t.Helper()

	a := &artifactServer{files: make(map[string][]byte)}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		body, ok := a.files[r.URL.Path]
		a.mu.Unlock()

		if !ok {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(body)
	}))
	t.Cleanup(a.Close)

	return a
}

// publish registers body at path and returns its absolute URL.
func (a *artifactServer) publish(path string, body []byte) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.files[path] = body

	return a.URL + path
}

// successPayload renders a cloudBuild.success body pointing at url.
func successPayload(project, target, platform, url string, number int) string {
	return fmt.Sprintf(`{
  "projectName": %q,
  "buildTargetName": %q,
  "platform": %q,
  "buildNumber": %d,
  "links": {"artifacts": [{"key": "primary", "primary": true, "files": [{"href": %q}]}]}
}`, project, target, platform, number, url)
}

// deliver posts a signed webhook and returns the response status.
func deliver(t *testing.T, hook, event, body string) int {
	t.Helper()

	verifier, err := signature.NewVerifier(testSecret)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, hook, strings.NewReader(body))
	require.NoError(t, err)

	req.Header.Set(webhook.SignatureHeader, verifier.Sign([]byte(body)))
	req.Header.Set(webhook.EventHeader, event)
	req.Header.Set("Content-Type", "application/json")

	response, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())

	return response.StatusCode
}

// deliverSuccess is deliver with the success event type.
func deliverSuccess(t *testing.T, hook, body string) int {
	t.Helper()

	return deliver(t, hook, notification.SuccessEvent, body)
}
