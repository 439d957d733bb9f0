package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/drpcorg/steit"
	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/examples"
	"github.com/drpcorg/steit/replay"
	"github.com/drpcorg/steit/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "steit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dir: /var/lib/steit
type: hello
listen:
  - tcp://:7000
  - ws://:7001/steit
connect: [tcp://upstream:7000]
snapshot_every: 100
log_level: debug
`), 0o600))

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/steit", cfg.Dir)
	assert.Equal(t, "hello", cfg.Type)
	assert.Equal(t, []string{"tcp://:7000", "ws://:7001/steit"}, cfg.Listen)
	assert.Equal(t, []string{"tcp://upstream:7000"}, cfg.Connect)
	assert.Equal(t, 100, cfg.SnapshotEvery)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	tlsConfig, err := cfg.TLSConfig()
	assert.NoError(t, err)
	assert.Nil(t, tlsConfig)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	tree, err := steit.Open(examples.OuterType, steit.Options{
		Dir: dir,
		Log: utils.NewWriterLogger(io.Discard, slog.LevelDebug),
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, tree.Commit(ctx, replay.NewUpdate([]uint32{0}, codec.AppendVarint(nil, 1))))
	require.NoError(t, tree.Checkpoint())
	require.NoError(t, tree.Commit(ctx,
		replay.NewUpdate([]uint32{2, 1}, []byte{1}),
		replay.NewUpdate(nil, nil),
	))
	require.NoError(t, tree.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"dump", dir})
	require.NoError(t, rootCmd.Execute())
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.True(t, bytes.HasPrefix(lines[0], []byte("snapshot\t1\t")))
	assert.Equal(t, "2\tupdate\t/2/1\t01", string(lines[1]))
	assert.Equal(t, "3\tupdate\t/", string(lines[2]))

	out.Reset()
	rootCmd.SetArgs([]string{"dump", dir, "--at", "2"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "2\tupdate\t/2/1\t01\n")
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(replay.Collectors()...)
	srv := httptest.NewServer(newRouter(reg, func() uint64 { return 0xabc }, func() uint64 { return 7 }))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/digest")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "0000000000000abc 7\n", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/digest", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
