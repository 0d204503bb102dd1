package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/buildmarket/pkg/api"
	"github.com/Mindburn-Labs/buildmarket/pkg/auth"
	"github.com/Mindburn-Labs/buildmarket/pkg/config"
	"github.com/Mindburn-Labs/buildmarket/pkg/escrow"
	"github.com/Mindburn-Labs/buildmarket/pkg/market"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"buildmarket"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	var got []string
	orig := startServer
	startServer = func(args []string, _, _ io.Writer) int {
		got = append([]string{"serve"}, args...)
		return 0
	}
	t.Cleanup(func() { startServer = orig })

	code, _, _ := run()
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"serve"}, got)

	code, _, _ = run("serve", "-config", "x.yaml")
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"serve", "-config", "x.yaml"}, got)

	code, _, _ = run("-config", "y.yaml")
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"serve", "-config", "y.yaml"}, got)

	code, out, _ := run("version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "buildmarket "+version+"\n", out)

	code, out, _ = run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "genesis")

	code, _, errOut := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")
}

func TestTokenCmd(t *testing.T) {
	dir := t.TempDir()

	code, _, errOut := run("token", "-data", dir)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "--address is required")

	code, out, errOut := run("token", "-data", dir, "-address", "0xalice", "-ttl", "1h")
	require.Equal(t, 0, code, errOut)

	ks, err := loadKeySet(dir)
	require.NoError(t, err)
	claims, err := auth.NewJWTValidator(ks).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "0xalice", claims.Subject)
}

func TestGenesisCmd(t *testing.T) {
	dir := t.TempDir()

	code, out, errOut := run("genesis", "-data", dir)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "admin capability written")

	path := filepath.Join(dir, adminTokenFile)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	authority, err := loadAuthority(dir)
	require.NoError(t, err)
	admin, err := authority.DecodeAdmin(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.NoError(t, authority.VerifyAdmin(admin))

	code, _, errOut = run("genesis", "-data", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")
}

func TestHealthCmd(t *testing.T) {
	authority, err := loadAuthority(t.TempDir())
	require.NoError(t, err)
	svc := market.New(store.NewMemoryStore(), escrow.NewMemoryVault(), authority)
	srv, err := api.NewServer(svc, version)
	require.NoError(t, err)
	ks, err := auth.GenerateKeySet()
	require.NoError(t, err)

	ts := httptest.NewServer(newHandler(srv, auth.NewJWTValidator(ks), api.NewRateLimiter(100, 100)))
	defer ts.Close()

	code, out, errOut := run("health", "-url", ts.URL)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "OK\n", out)

	ts.Close()
	code, _, errOut = run("health", "-url", ts.URL)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Health check failed")
}

func TestSetupBackends(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{StoreBackend: backend, DataDir: t.TempDir()}
			be, err := setupBackends(ctx, cfg)
			require.NoError(t, err)
			defer func() { assert.NoError(t, be.close()) }()

			require.NoError(t, be.custody.Deposit(ctx, "alice", 10))
			bal, err := be.custody.Balance(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, int64(10), bal)

			recs, err := be.store.ListJobs(ctx)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}

	_, err := setupBackends(ctx, &config.Config{StoreBackend: "mongo"})
	assert.Error(t, err)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	cfg := &config.Config{
		Port:         "0",
		StoreBackend: config.BackendMemory,
		DataDir:      t.TempDir(),
		RateLimit:    config.RateLimit{RPS: 10, Burst: 10},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, io.Discard) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	_, err := os.Stat(filepath.Join(cfg.DataDir, adminTokenFile))
	assert.NoError(t, err, "first start writes the admin capability")
}

func TestServe_BadBidPolicy(t *testing.T) {
	cfg := &config.Config{
		Port:         "0",
		StoreBackend: config.BackendMemory,
		DataDir:      t.TempDir(),
		BidPolicy:    "job.budget +",
		RateLimit:    config.RateLimit{RPS: 10, Burst: 10},
	}
	err := serve(context.Background(), cfg, io.Discard)
	assert.ErrorContains(t, err, "bid policy")
}
