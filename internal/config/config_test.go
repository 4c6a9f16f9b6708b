package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fho/dsyncd/internal/testutils/assert"
)

func TestLoadCredentialsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "AuthToken"), []byte("secret123"), 0600)

	cfg := &Config{AuthToken: "original"}

	err := cfg.LoadCredentialsFromDirectory(dir)
	assert.NoError(t, err)
	assert.Equal(t, "secret123", cfg.AuthToken)
}

func TestLoadCredentialsFromDirectory_MissingFileSkipped(t *testing.T) {
	dir := t.TempDir()

	cfg := &Config{AuthToken: "original"}

	err := cfg.LoadCredentialsFromDirectory(dir)
	assert.NoError(t, err)
	assert.Equal(t, "original", cfg.AuthToken)
}

func TestLoadCredentialsFromDirectory_DirNotExistsError(t *testing.T) {
	cfg := &Config{}
	err := cfg.LoadCredentialsFromDirectory("/nonexistent/path")
	assert.Error(t, err)
}

func TestLoadCredentialsFromDirectory_EmptyFileError(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "AuthToken"), []byte(""), 0600)

	cfg := &Config{}
	err := cfg.LoadCredentialsFromDirectory(dir)
	assert.Error(t, err)
	assert.Equal(t, "reading credential AuthToken: file is empty", err.Error())
}

func TestLoadCredentialsFromDirectory_PreservesSpaces(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "AuthToken"), []byte(" spaces \nnewline\n"), 0600)

	cfg := &Config{}
	err := cfg.LoadCredentialsFromDirectory(dir)
	assert.NoError(t, err)
	assert.Equal(t, " spaces \nnewline", cfg.AuthToken)
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	assert.Equal(t, ".dsyncd.state", cfg.StateFile)
	assert.Equal(t, "full", cfg.SyncType)
	assert.Equal(t, "localhost:7654", cfg.StatusListenAddr)
}

func TestConfig_SetDefaults_DoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{StateFile: "/var/lib/dsyncd/state", SyncType: "changed", StatusListenAddr: "0.0.0.0:9999"}
	cfg.SetDefaults()
	assert.Equal(t, "/var/lib/dsyncd/state", cfg.StateFile)
	assert.Equal(t, "changed", cfg.SyncType)
	assert.Equal(t, "0.0.0.0:9999", cfg.StatusListenAddr)
}

func validMasterConfig() *Config {
	return &Config{
		Role:       "master",
		RemoteAddr: "localhost:4242",
		SyncBox:    "INBOX",
		SyncType:   "full",
		StateFile:  "/tmp/state",
	}
}

func TestConfig_Validate_ValidMaster(t *testing.T) {
	assert.NoError(t, validMasterConfig().Validate())
}

func TestConfig_Validate_ValidSlave(t *testing.T) {
	cfg := &Config{Role: "slave", ListenAddr: "localhost:4242", StateFile: "/tmp/state"}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_UnknownRole(t *testing.T) {
	cfg := validMasterConfig()
	cfg.Role = "primary"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_MasterRequiresRemoteAddr(t *testing.T) {
	cfg := validMasterConfig()
	cfg.RemoteAddr = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_SlaveRequiresListenAddr(t *testing.T) {
	cfg := &Config{Role: "slave", StateFile: "/tmp/state"}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidSyncType(t *testing.T) {
	cfg := validMasterConfig()
	cfg.SyncType = "partial"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_MasterRequiresSyncBox(t *testing.T) {
	cfg := validMasterConfig()
	cfg.SyncBox = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_BackupSendAndRecvMutuallyExclusive(t *testing.T) {
	cfg := validMasterConfig()
	cfg.BackupSend = true
	cfg.BackupRecv = true
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RequiresStateFile(t *testing.T) {
	cfg := validMasterConfig()
	cfg.StateFile = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_NegativeResyncInterval(t *testing.T) {
	cfg := validMasterConfig()
	cfg.ResyncInterval = -1
	assert.Error(t, cfg.Validate())
}

func TestConfig_String_HidesAuthToken(t *testing.T) {
	cfg := validMasterConfig()
	cfg.AuthToken = "supersecret"
	s := cfg.String()
	assert.Equal(t, false, strings.Contains(s, "supersecret"))
	assert.Equal(t, true, strings.Contains(s, "***"))
}
