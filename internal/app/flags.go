package app

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orbitlabs/orbit/internal/config"
)

// Flag names shared by the orbit binaries. Each is also read from ORBIT_<NAME>.
const (
	FlagConfig   = "config"
	FlagDataDir  = "data-dir"
	FlagHost     = "host"
	FlagPort     = "port"
	FlagDriver   = "driver"
	FlagDSN      = "dsn"
	FlagLogLevel = "log-level"
)

// BindFlags registers the shared persistent flags on cmd and binds them to v
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String(FlagConfig, "", "config file (.json, .yaml or .yml)")
	flags.String(FlagDataDir, "", "data directory")
	flags.String(FlagHost, "", "HTTP listen host")
	flags.Int(FlagPort, 0, "HTTP listen port")
	flags.String(FlagDriver, "", "database driver (sqlite, sqlite3, postgres)")
	flags.String(FlagDSN, "", "database source name for postgres")
	flags.String(FlagLogLevel, "", "log level (debug, info, warn, error)")

	for _, name := range []string{FlagConfig, FlagDataDir, FlagHost, FlagPort, FlagDriver, FlagDSN, FlagLogLevel} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}

	v.SetEnvPrefix("orbit")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// LoadConfig reads the config file named by the config flag, then applies any
// flag or environment value that was set.
func LoadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString(FlagConfig)
	if path == "" && v.GetString(FlagDataDir) != "" {
		path = filepath.Join(v.GetString(FlagDataDir), "config.json")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if s := v.GetString(FlagDataDir); s != "" {
		cfg.DataDir = s
	}
	if s := v.GetString(FlagHost); s != "" {
		cfg.Server.Host = s
	}
	if p := v.GetInt(FlagPort); p != 0 {
		cfg.Server.Port = p
	}
	if s := v.GetString(FlagDriver); s != "" {
		cfg.Database.Driver = s
	}
	if s := v.GetString(FlagDSN); s != "" {
		cfg.Database.DSN = s
	}
	if s := v.GetString(FlagLogLevel); s != "" {
		cfg.Logging.Level = s
	}
	return cfg, nil
}
