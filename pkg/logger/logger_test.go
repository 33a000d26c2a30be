package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWritesToFileAndAudit(t *testing.T) {
	dir := t.TempDir()
	appLog := filepath.Join(dir, "app.log")
	auditLog := filepath.Join(dir, "audit.log")

	require.NoError(t, Init(Config{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{appLog},
		Audit:       AuditConfig{Enabled: true, Path: auditLog},
	}))
	t.Cleanup(func() {
		_ = Init(Config{})
	})

	Named("network").Info("health check", "chain_id", "0x1")
	Audit().Info("chain switched", "previous", "0x1", "current", "0x89")
	require.NoError(t, Sync())

	app, err := os.ReadFile(appLog)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(app), `"component":"network"`))

	audit, err := os.ReadFile(auditLog)
	require.NoError(t, err)
	require.Contains(t, string(audit), `"current":"0x89"`)
}

func TestAuditFallsBackToApplicationLog(t *testing.T) {
	appLog := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, Init(Config{Format: "text", OutputPaths: []string{appLog}}))
	t.Cleanup(func() {
		_ = Init(Config{})
	})

	Audit().Info("chain added", "chain_id", "0x2105")
	ForChain(nil, "0x89").Warn("rpc failed")
	Named("api").Debug("dropped below level")
	require.NoError(t, Sync())

	raw, err := os.ReadFile(appLog)
	require.NoError(t, err)
	out := string(raw)
	require.Contains(t, out, "stream=audit")
	require.Contains(t, out, "chain_id=0x89")
	require.NotContains(t, out, "dropped below level")
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	require.Error(t, Init(Config{Audit: AuditConfig{Enabled: true}}))
}
