// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
)

// appName names the subdirectory this store uses under XDG-style
// configuration directories, mirroring the teacher's own "bureau"
// subdirectory under $XDG_CONFIG_HOME / $HOME/.config.
const appName = "repodex"

// ResolveStoreRoot finds the directory a store should open, checking,
// in order: the STORE environment variable, then cliOverride (the
// -store flag, if non-empty), then $XDG_CONFIG_HOME/repodex, then
// $HOME/.config/repodex, then an OS-appropriate fallback under /tmp
// if even the home directory cannot be determined. This is the same
// chain as the teacher's SessionFilePath, generalized from a single
// well-known file to a directory root and given a CLI override.
//
// A relative cliOverride is resolved to an absolute path before use,
// per §6.
func ResolveStoreRoot(cliOverride string) (string, error) {
	if envPath := os.Getenv("STORE"); envPath != "" {
		return envPath, nil
	}

	if cliOverride != "" {
		abs, err := filepath.Abs(cliOverride)
		if err != nil {
			return "", err
		}
		return abs, nil
	}

	configDirectory := os.Getenv("XDG_CONFIG_HOME")
	if configDirectory == "" {
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("/tmp", appName), nil
		}
		configDirectory = filepath.Join(homeDirectory, ".config")
	}
	return filepath.Join(configDirectory, appName), nil
}
