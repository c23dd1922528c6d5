package sync

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/testground/chainbench/pkg/runtime"
	syncsvc "github.com/testground/chainbench/pkg/sync"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// randomRunParams generates RunParams scoped to a fresh run.
func randomRunParams() *runtime.RunParams {
	return &runtime.RunParams{
		TestPlan:          "chainbench",
		TestCase:          "entrypoint",
		TestRun:           xid.New().String(),
		TestInstanceCount: 1,
	}
}

// startServer serves service on a random local port and returns its URL.
func startServer(t *testing.T, service syncsvc.Service) string {
	t.Helper()

	srv, err := syncsvc.NewServer(testLogger(), service, "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		if err := srv.Serve(); err != nil && err != http.ErrServerClosed {
			t.Logf("sync server stopped: %s", err)
		}
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = service.Close()
		_ = srv.Shutdown(ctx)
	})
	return srv.URL()
}

// startMemoryServer serves a fresh in-memory service.
func startMemoryServer(t *testing.T) string {
	t.Helper()
	return startServer(t, syncsvc.NewMemoryService(testLogger()))
}

func newTestClient(t *testing.T, url string, keys Keyspace) *Client {
	t.Helper()

	c, err := NewClient(context.Background(), testLogger(), url, keys)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
