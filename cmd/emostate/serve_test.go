package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/emostate/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunServe_OpsServerUpWhileRunning(t *testing.T) {
	dir := t.TempDir()
	c := config.Default()
	c.DataDir = dir
	c.Store.Backend = config.StoreMemory
	c.Cache.Backend = config.CacheNone
	c.Maintenance.Enabled = false
	c.Server.Addr = freeAddr(t)

	prevCfg, prevPath := cfg, configPath
	cfg, configPath = c, filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { cfg, configPath = prevCfg, prevPath })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- runServe(cmd, nil) }()

	url := "http://" + c.Server.Addr + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "ops server never answered /healthz")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
