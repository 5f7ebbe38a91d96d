package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kingrea/shellexec/internal/config"
)

func TestInitWritesJobFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "se_agent.log")
	flush, err := Init(config.LogConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)

	ForJob("build").Info("job finished", zap.String("status", "DONE"))
	ForComponent("scheduler").Debug("hidden below info")
	flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `["job finished"] [job=build] [status=DONE]`)
	require.NotContains(t, string(data), "hidden below info")
}
