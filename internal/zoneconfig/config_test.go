package zoneconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyresolver/polyresolver/internal/zoneconfig"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", "domain_name: corp.example.\nforwarders:\n  - 10.0.0.53\n  - 10.0.0.54\nprotocol: udp\n")

	cfg, err := zoneconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "corp.example.", cfg.DomainName.String())
	assert.Len(t, cfg.Forwarders, 2)
	assert.Equal(t, zoneconfig.ProtocolUDP, cfg.Protocol)
}

func TestLoadRootDomain(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "root.yaml", "domain_name: .\nforwarders:\n  - 1.1.1.1\nprotocol: tls\n")

	cfg, err := zoneconfig.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.DomainName.IsRoot())
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", "domain_name: corp.example.\nforwarders: [10.0.0.53]\nprotocol: udp\nextra: true\n")

	_, err := zoneconfig.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyForwarders(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", "domain_name: corp.example.\nforwarders: []\nprotocol: udp\n")

	_, err := zoneconfig.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownProtocol(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", "domain_name: corp.example.\nforwarders: [10.0.0.53]\nprotocol: quic\n")

	_, err := zoneconfig.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := zoneconfig.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
