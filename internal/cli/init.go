package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/tokenplan/internal/paths"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// configFile holds the structure written to config.yaml.
type configFile struct {
	DataDir       string `yaml:"data_dir,omitempty"`
	LogLevel      string `yaml:"log_level"`
	PageSize      int    `yaml:"page_size"`
	ReportCacheMB int64  `yaml:"report_cache_mb"`
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize tokenplan storage",
		Long:  "Create the configuration and data directories, write a default config.yaml, and create the plan catalog.",
		Args:  exactArgs(0),
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, _ []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, paths.ConfigFileName)
	if err := writeConfigIfMissing(configPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// Opening the service creates the data directory and the catalog.
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	if err := svc.Close(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}

	if flags.jsonMode {
		return printJSON(cmd, map[string]string{
			"config_dir": configDir,
			"data_dir":   cfg.DataDir,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tokenplan initialized\nconfig: %s\ndata:   %s\n", configPath, cfg.DataDir)
	return nil
}

// writeConfigIfMissing creates config.yaml from cfg if the file does not
// exist. An existing file is left untouched.
func writeConfigIfMissing(path string, cfg types.Config) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := yaml.Marshal(&configFile{
		DataDir:       cfg.DataDir,
		LogLevel:      cfg.LogLevel,
		PageSize:      cfg.PageSize,
		ReportCacheMB: cfg.ReportCacheMB,
	})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
