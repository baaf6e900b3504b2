package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/deck-agent/dagent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultDatabaseDSN, cfg.Database.DSN)
	assert.Equal(suite.T(), internal.DefaultDatabaseType, cfg.Database.Type)
	assert.Equal(suite.T(), "openai", cfg.Reasoner.Provider)
	assert.Equal(suite.T(), "o3-mini", cfg.Reasoner.Model)
	assert.Equal(suite.T(), 30*time.Second, cfg.Harness.SnapshotTimeout)
	assert.Equal(suite.T(), 2*time.Minute, cfg.Harness.ReasoningTimeout)
	assert.Equal(suite.T(), time.Minute, cfg.Harness.ToolTimeout)
	assert.Equal(suite.T(), "libsql", cfg.Harness.Mailbox)
	assert.Empty(suite.T(), cfg.Documents.MutationCommand)
	assert.Equal(suite.T(), internal.DefaultListenAddr, cfg.Server.ListenAddr)
	assert.False(suite.T(), cfg.Harness.AllowAnyPath)
}

func (suite *ConfigTestSuite) TestLoadConfigReturnsIndependentValues() {
	first := filepath.Join(suite.tempDir, "first.yaml")
	second := filepath.Join(suite.tempDir, "second.yaml")
	require.NoError(suite.T(), os.WriteFile(first, []byte("reasoner:\n  model: \"one\"\n"), 0o644))
	require.NoError(suite.T(), os.WriteFile(second, []byte("reasoner:\n  model: \"two\"\n"), 0o644))

	a, err := LoadConfig(first)
	require.NoError(suite.T(), err)
	b, err := LoadConfig(second)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "one", a.Reasoner.Model)
	assert.Equal(suite.T(), "two", b.Reasoner.Model)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
database:
  dsn: "file:./test.db"
reasoner:
  model: "gpt-4o-mini"
  parse_text_tool_calls: true
harness:
  reasoning_timeout: "90s"
  mailbox: "memory"
  allowed_tools: ["inspect-slide", "inspect-sheet"]
  allow_any_path: true
documents:
  mutation_command: ["python3", "worker.py"]
`
	configFile := filepath.Join(suite.tempDir, "test-config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "file:./test.db", cfg.Database.DSN)
	assert.Equal(suite.T(), "gpt-4o-mini", cfg.Reasoner.Model)
	assert.True(suite.T(), cfg.Reasoner.ParseTextToolCalls)
	assert.Equal(suite.T(), 90*time.Second, cfg.Harness.ReasoningTimeout)
	assert.Equal(suite.T(), "memory", cfg.Harness.Mailbox)
	assert.Equal(suite.T(), []string{"inspect-slide", "inspect-sheet"}, cfg.Harness.AllowedTools)
	assert.True(suite.T(), cfg.Harness.AllowAnyPath)
	assert.Equal(suite.T(), []string{"python3", "worker.py"}, cfg.Documents.MutationCommand)
	// untouched sections keep defaults
	assert.Equal(suite.T(), time.Minute, cfg.Harness.ToolTimeout)
}

func (suite *ConfigTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("DAGENT_REASONER_MODEL", "gpt-4.1")
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "gpt-4.1", cfg.Reasoner.Model)
	assert.Equal(suite.T(), "sk-test", cfg.Reasoner.APIKey)
}

func (suite *ConfigTestSuite) TestRejectsUnknownMailbox() {
	configFile := filepath.Join(suite.tempDir, "bad.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte("harness:\n  mailbox: carrier-pigeon\n"), 0o644))

	_, err := LoadConfig(configFile)
	require.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "carrier-pigeon")
}

func (suite *ConfigTestSuite) TestMalformedConfigFile() {
	configFile := filepath.Join(suite.tempDir, "broken.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte("harness: [unterminated"), 0o644))

	_, err := LoadConfig(configFile)
	assert.Error(suite.T(), err)
}
