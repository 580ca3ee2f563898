package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvHome overrides the directory bare config names are resolved in.
const EnvHome = "DS_HOME"

// HomeDir is where connector configs live when given by bare name:
// $DS_HOME if set, else ~/.dataspace.
func HomeDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for config lookup: %w", err)
	}
	return filepath.Join(home, ".dataspace"), nil
}

// DefaultPath turns name into a loadable path. Absolute names and names
// found relative to the working directory win; anything else is placed
// under HomeDir, whether or not it exists there yet.
func DefaultPath(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return name, nil
	}
	if st, err := os.Stat(name); err == nil && !st.IsDir() {
		return name, nil
	}
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, name), nil
}
