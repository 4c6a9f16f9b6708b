// Package config loads and validates dsyncd's daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the daemon's TOML configuration file.
type Config struct {
	// Role is either "master" or "slave". A master initiates the
	// handshake and drives the sync_type/flags negotiation.
	Role string

	// ListenAddr is the address the slave listens on for the master's
	// connection. Only meaningful when Role is "slave".
	ListenAddr string
	// RemoteAddr is the slave's address, which the master dials. Only
	// meaningful when Role is "master".
	RemoteAddr string
	// AuthToken is a shared secret both ends present on connect. Usually
	// not set directly in the TOML file - see LoadCredentialsFromDirectory.
	AuthToken string

	NamespacePrefix string
	SyncBox         string
	SyncType        string // "full", "changed", or "state"

	SendGuidRequests  bool
	MailsHaveGuids    bool
	BackupSend        bool
	BackupRecv        bool
	Debug             bool
	SyncAllNamespaces bool

	StateFile string

	// ResyncInterval schedules a periodic Changed-type resync, in
	// addition to whatever a run was invoked with. Zero disables it.
	ResyncInterval time.Duration

	StatusListenAddr string
}

// FromFile loads a Config from a TOML file at path.
func FromFile(path string) (*Config, error) {
	var result Config

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(buf, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// LoadCredentialsFromDirectory overrides AuthToken from a file named
// "AuthToken" in dir, if present, so secrets can be mounted separately
// from the TOML config (e.g. a Kubernetes secret volume). Missing files
// are skipped; an existing but empty file is an error. Trailing
// newlines are trimmed, leading/interior whitespace is preserved.
func (c *Config) LoadCredentialsFromDirectory(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("credentials directory: %w", err)
	}

	fields := map[string]*string{
		"AuthToken": &c.AuthToken,
	}

	for name, dst := range fields {
		path := filepath.Join(dir, name)

		buf, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("reading credential %s: %w", name, err)
		}

		val := strings.TrimRight(string(buf), "\r\n")
		if val == "" {
			return fmt.Errorf("reading credential %s: file is empty", name)
		}

		*dst = val
	}

	return nil
}

// SetDefaults fills in fields FromFile leaves zero.
func (c *Config) SetDefaults() {
	if c.StateFile == "" {
		c.StateFile = ".dsyncd.state"
	}
	if c.SyncType == "" {
		c.SyncType = "full"
	}
	if c.StatusListenAddr == "" {
		c.StatusListenAddr = "localhost:7654"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Role {
	case "master":
		if c.RemoteAddr == "" {
			return errors.New(`RemoteAddr must be set when Role is "master"`)
		}
	case "slave":
		if c.ListenAddr == "" {
			return errors.New(`ListenAddr must be set when Role is "slave"`)
		}
	default:
		return fmt.Errorf("Role must be %q or %q, got %q", "master", "slave", c.Role)
	}

	if c.Role == "master" {
		switch c.SyncType {
		case "full", "changed", "state":
		default:
			return fmt.Errorf("SyncType must be one of %q, %q, %q, got %q",
				"full", "changed", "state", c.SyncType)
		}

		if c.SyncBox == "" {
			return errors.New("SyncBox must not be empty")
		}
	}

	if c.BackupSend && c.BackupRecv {
		return errors.New("BackupSend and BackupRecv are mutually exclusive")
	}

	if c.StateFile == "" {
		return errors.New("StateFile must not be empty")
	}

	if c.ResyncInterval < 0 {
		return errors.New("ResyncInterval must not be negative")
	}

	return nil
}

// String renders a human-readable summary, hiding AuthToken.
func (c *Config) String() string {
	const unset = "UNSET"
	const hiddenSecret = "***"
	var sb strings.Builder

	printKv := func(k string, v any) {
		fmt.Fprintf(&sb, "%-24v%-40v\n", k+":", v)
	}

	sb.WriteString("Configuration:\n")
	printKv("Role", c.Role)
	printKv("Listen Addr", c.ListenAddr)
	printKv("Remote Addr", c.RemoteAddr)

	if c.AuthToken == "" {
		printKv("Auth Token", unset)
	} else {
		printKv("Auth Token", hiddenSecret)
	}

	printKv("Namespace Prefix", c.NamespacePrefix)
	printKv("Sync Box", c.SyncBox)
	printKv("Sync Type", c.SyncType)
	printKv("Backup Send", c.BackupSend)
	printKv("Backup Recv", c.BackupRecv)
	printKv("State File", c.StateFile)
	printKv("Resync Interval", c.ResyncInterval)
	printKv("Status Listen Addr", c.StatusListenAddr)

	return sb.String()
}
