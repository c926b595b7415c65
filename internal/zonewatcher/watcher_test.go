package zonewatcher_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyresolver/polyresolver/internal/zoneconfig"
	"github.com/polyresolver/polyresolver/internal/zonewatcher"
)

const testDebounce = 50 * time.Millisecond

func writeZone(t *testing.T, dir, name, domain string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "domain_name: " + domain + "\nforwarders: [192.0.2.1]\nprotocol: udp\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func drainUntil(t *testing.T, ch <-chan zoneconfig.ConfigUpdate, n int, timeout time.Duration) []zoneconfig.ConfigUpdate {
	t.Helper()

	got := make([]zoneconfig.ConfigUpdate, 0, n)
	deadline := time.After(timeout)

	for len(got) < n {
		select {
		case u := <-ch:
			got = append(got, u)
		case <-deadline:
			t.Fatalf("timed out waiting for %d updates, got %d", n, len(got))
		}
	}

	return got
}

func TestRunStartupScan(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "a.yaml", "foo.")
	writeZone(t, dir, "b.yaml", "bar.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan zoneconfig.ConfigUpdate, 8)
	w := zonewatcher.New(dir, testDebounce, zerolog.Nop())

	go func() { _ = w.Run(ctx, out) }()

	updates := drainUntil(t, out, 2, 2*time.Second)

	names := map[string]bool{}
	for _, u := range updates {
		require.NotNil(t, u.Config)
		names[u.Config.DomainName.String()] = true
	}

	assert.True(t, names["foo."])
	assert.True(t, names["bar."])
}

func TestRunDetectsCreateAndRemove(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan zoneconfig.ConfigUpdate, 8)
	w := zonewatcher.New(dir, testDebounce, zerolog.Nop())

	go func() { _ = w.Run(ctx, out) }()

	time.Sleep(testDebounce)

	path := writeZone(t, dir, "c.yaml", "baz.")

	updates := drainUntil(t, out, 1, 2*time.Second)
	require.NotNil(t, updates[0].Config)
	assert.Equal(t, "baz.", updates[0].Config.DomainName.String())

	require.NoError(t, os.Remove(path))

	removed := drainUntil(t, out, 1, 2*time.Second)
	assert.Nil(t, removed[0].Config)
	assert.Equal(t, path, removed[0].ConfigFilename)
}

func TestRunFatalOnMissingDir(t *testing.T) {
	ctx := context.Background()
	out := make(chan zoneconfig.ConfigUpdate, 1)
	w := zonewatcher.New(filepath.Join(t.TempDir(), "does-not-exist"), testDebounce, zerolog.Nop())

	err := w.Run(ctx, out)
	require.Error(t, err)
}

func TestRescanReemitsCurrentDirectoryContents(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "a.yaml", "foo.")

	out := make(chan zoneconfig.ConfigUpdate, 8)
	w := zonewatcher.New(dir, testDebounce, zerolog.Nop())

	require.NoError(t, w.Rescan(out))

	updates := drainUntil(t, out, 1, 2*time.Second)
	require.NotNil(t, updates[0].Config)
	assert.Equal(t, "foo.", updates[0].Config.DomainName.String())

	writeZone(t, dir, "b.yaml", "bar.")
	require.NoError(t, w.Rescan(out))

	updates = drainUntil(t, out, 2, 2*time.Second)
	names := map[string]bool{}
	for _, u := range updates {
		names[u.Config.DomainName.String()] = true
	}
	assert.True(t, names["foo."])
	assert.True(t, names["bar."])
}

func TestRescanFailsOnMissingDir(t *testing.T) {
	out := make(chan zoneconfig.ConfigUpdate, 1)
	w := zonewatcher.New(filepath.Join(t.TempDir(), "does-not-exist"), testDebounce, zerolog.Nop())

	require.Error(t, w.Rescan(out))
}
