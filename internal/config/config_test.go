package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
name: local-dev
mode: standalone
host: 0.0.0.0
workspace: /var/lib/openagents
transports:
  - type: grpc
    listen_addr: 0.0.0.0:50051
  - type: http
    listen_addr: 0.0.0.0:8090
mods:
  - name: messaging
  - name: document
observability:
  prometheus_port: "9090"
  log_level: INFO
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func TestLoadParsesDescriptor(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)
	assert.Equal(t, "local-dev", d.Name)
	require.Len(t, d.Transports, 2)
	assert.Equal(t, "grpc", d.Transports[0].Type)
	require.Len(t, d.Mods, 2)
	assert.Equal(t, "document", d.Mods[1].Name)
}

func TestLoadAppliesWorkspaceOverride(t *testing.T) {
	t.Setenv("OPENAGENTS_WORKSPACE", "/tmp/override")
	d, err := Load(writeSample(t))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override", d.Workspace)
}

func TestValidateRejectsMissingName(t *testing.T) {
	d := &NetworkDescriptor{Workspace: "/tmp", Transports: []TransportConfig{{Type: "grpc", ListenAddr: ":1"}}}
	assert.Error(t, d.Validate())
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	d := &NetworkDescriptor{Name: "x", Workspace: "/tmp", Transports: []TransportConfig{{Type: "carrier-pigeon", ListenAddr: ":1"}}}
	assert.Error(t, d.Validate())
}

func TestValidateRejectsDuplicateTransportType(t *testing.T) {
	d := &NetworkDescriptor{Name: "x", Workspace: "/tmp", Transports: []TransportConfig{
		{Type: "grpc", ListenAddr: ":1"},
		{Type: "grpc", ListenAddr: ":2"},
	}}
	assert.Error(t, d.Validate())
}
