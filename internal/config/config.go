// Package config loads repx's own TOML configuration (targets and
// submission defaults) and resources.toml, creating sane defaults on
// first run: load-or-create-default, matching
// repx-core/src/config.rs::load_config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"

	"github.com/repx-org/repx/pkg/repxerr"
)

const (
	configFileName    = "config.toml"
	resourcesFileName = "resources.toml"
)

// SlurmConfig describes a target's SLURM scheduling capabilities.
type SlurmConfig struct {
	ExecutionTypes []string `toml:"execution_types"`
}

// Target is one entry of the [targets] table: a site where jobs may run.
type Target struct {
	Address              string       `toml:"address"`
	BasePath             string       `toml:"base_path"`
	Scheduler            string       `toml:"scheduler"`
	ExecutionType        string       `toml:"execution_type"`
	DefaultExecutionType string       `toml:"default_execution_type"`
	LocalConcurrency     int          `toml:"local_concurrency"`
	NodeLocalPath        string       `toml:"node_local_path"`
	MountHostPaths       bool         `toml:"mount_host_paths"`
	MountPaths           []string     `toml:"mount_paths"`
	Slurm                *SlurmConfig `toml:"slurm"`
}

// Config is the top-level config.toml document.
type Config struct {
	SubmissionTarget string            `toml:"submission_target"`
	DefaultScheduler string            `toml:"default_scheduler"`
	Targets          map[string]Target `toml:"targets"`
}

const defaultConfigContent = `# repx configuration file.
# This file was generated automatically; edit it to customize repx's behavior.

submission_target = "local"
default_scheduler = "slurm"

[targets.local]
base_path = "~/repx-store"
scheduler = "local"
execution_type = "native"
`

const defaultResourcesContent = `# repx resource configuration file.
# Rules are applied in declaration order; later matching rules overwrite
# earlier ones. sbatch_opts replaces wholesale rather than appending.

[defaults]
partition = "default"
cpus-per-task = 1
mem = "1G"
`

// xdgConfigDir returns $XDG_CONFIG_HOME/repx (or os.UserConfigDir()'s
// platform default), matching the fallback behavior of the Rust xdg
// crate's BaseDirectories without introducing an extra dependency.
func xdgConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "repx"), nil
}

// xdgStateDir returns $XDG_STATE_HOME/repx, reading XDG_STATE_HOME
// directly since the standard library has no UserStateDir helper.
func xdgStateDir() (string, error) {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return filepath.Join(v, "repx"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "repx"), nil
}

// XDGCacheDir returns $XDG_CACHE_HOME/repx, used to key the local
// SBATCH script cache.
func XDGCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "repx"), nil
}

// SlurmMapPath returns the well-known path of the persistent batch-ID
// map: <XDG_STATE>/repx/slurm_map.json.
func SlurmMapPath() (string, error) {
	dir, err := xdgStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "slurm_map.json"), nil
}

func createIfMissing(path string, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// Load reads config.toml, creating default config.toml and
// resources.toml files on first run. Target base paths are expanded
// (leading "~" only) and validated absolute for local (address-less)
// targets.
func Load() (*Config, error) {
	dir, err := xdgConfigDir()
	if err != nil {
		return nil, err
	}
	configPath := filepath.Join(dir, configFileName)
	resourcesPath := filepath.Join(dir, resourcesFileName)

	if err := createIfMissing(configPath, defaultConfigContent); err != nil {
		return nil, err
	}
	if err := createIfMissing(resourcesPath, defaultResourcesContent); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, &repxerr.ConfigurationError{Message: fmt.Sprintf("parsing %s: %v", configPath, err)}
	}

	for name, target := range cfg.Targets {
		expanded := expandTilde(target.BasePath)
		target.BasePath = expanded
		if target.Address == "" && !filepath.IsAbs(expanded) {
			return nil, &repxerr.ConfigurationError{Message: fmt.Sprintf(
				"target %q: base_path for local targets must be absolute or start with '~', got %q", name, target.BasePath,
			)}
		}
		cfg.Targets[name] = target
	}

	return &cfg, nil
}

func expandTilde(p string) string {
	if p == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
		return p
	}
	if len(p) >= 2 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// LoadResources reads resources.toml from the config directory.
func LoadResources() (data []byte, path string, err error) {
	dir, err := xdgConfigDir()
	if err != nil {
		return nil, "", err
	}
	resourcesPath := filepath.Join(dir, resourcesFileName)
	if err := createIfMissing(resourcesPath, defaultResourcesContent); err != nil {
		return nil, "", err
	}
	data, err = os.ReadFile(resourcesPath)
	return data, resourcesPath, err
}
