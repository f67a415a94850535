// Package project loads arbor.toml, the optional per-project configuration:
// the module name, extra library search paths for .syntax files and
// imports, and the per-file parsing options that must stay pinned.
package project

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the contents of an arbor.toml file.
type Config struct {
	// Module is the module name recorded in the module_name attribute of
	// the file's scope.
	Module string `toml:"module"`

	// Syntax is a path to a .syntax file replacing the built-in grammar,
	// relative to arbor.toml.
	Syntax string `toml:"syntax,omitempty"`

	// LibPaths are extra directories searched for child .syntax files,
	// relative to arbor.toml.
	LibPaths []string `toml:"lib_paths,omitempty"`

	// SignedConstants folds -3 into a negative literal at parse time.
	// The option changes the AST observably, so the project file pins it
	// for every file of the project. The --signed-constants flag can also
	// turn it on, but cannot turn it off when the project file sets it.
	SignedConstants bool `toml:"signed_constants,omitempty"`
}

// Load reads an arbor.toml file.
func Load(path string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return &config, nil
}

// Find searches for arbor.toml starting from dir and walking up parents,
// stopping at a .git boundary. It returns the config path and the parsed
// config, or ("", nil, nil) when there is none.
func Find(dir string) (string, *Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, err
	}
	for {
		path := filepath.Join(dir, "arbor.toml")
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				return "", nil, err
			}
			return path, config, nil
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return "", nil, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil, nil
		}
		dir = parent
	}
}

// SyntaxResolver returns a child-syntax file resolver honoring the
// config's library paths rooted at configDir.
func (c *Config) SyntaxResolver(configDir string) func(name string) (string, error) {
	dirs := []string{configDir}
	for _, lib := range c.LibPaths {
		if filepath.IsAbs(lib) {
			dirs = append(dirs, lib)
		} else {
			dirs = append(dirs, filepath.Join(configDir, lib))
		}
	}
	return func(name string) (string, error) {
		for _, dir := range dirs {
			path := filepath.Join(dir, name+".syntax")
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		return "", errors.Errorf("no syntax file for %q in %d search paths", name, len(dirs))
	}
}
