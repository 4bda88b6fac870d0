package integration

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/ucb-deployer/internal/api/grpc/health"
	"github.com/oshokin/ucb-deployer/internal/config"
	"github.com/oshokin/ucb-deployer/internal/service/server"
)

// TestRun_ServesWebhookHealthAndMetrics starts the full process from a
// settings file and checks every listener until cancellation.
//
//nolint:funlen // Integration test requires comprehensive setup and verification.
func TestRun_ServesWebhookHealthAndMetrics(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Listen = reservePort(t)
	cfg.HealthListen = reservePort(t)
	cfg.WebhookPath = "/ucb"

	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, config.Save(cfgPath, cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- server.Run(ctx, &server.Options{ConfigPath: cfgPath, DrainTimeout: 5 * time.Second})
	}()

	base := "http://" + cfg.Listen

	require.Eventually(t, func() bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+cfg.Metrics.Path, http.NoBody)
		if err != nil {
			return false
		}

		response, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}

		_ = response.Body.Close()

		return response.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// A wrong event type is acknowledged without work.
	payload := successPayload("MyGame", "win-dev", "standalonewindows64", "http://127.0.0.1:1/x.zip", 1)
	require.Equal(t, http.StatusOK, deliver(t, base+cfg.WebhookPath, "cloudBuild.started", payload))

	conn, err := grpc.NewClient(cfg.HealthListen, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	client := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		checkCtx, checkCancel := context.WithTimeout(ctx, time.Second)
		defer checkCancel()

		resp, checkErr := client.Check(checkCtx, &healthpb.HealthCheckRequest{Service: health.IngestService})

		return checkErr == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoFileExists(t, cfg.LockFile)
}
