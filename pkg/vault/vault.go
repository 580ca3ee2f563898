// Package vault holds secrets used by the connector: data plane token
// signing keys, cloud credentials and auth codes referenced from data
// addresses by key name.
package vault

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

// Vault resolves secrets by key.
type Vault interface {
	ResolveSecret(ctx context.Context, key string) (string, error)
	StoreSecret(ctx context.Context, key, value string) error
	DeleteSecret(ctx context.Context, key string) error
}

// MemoryVault is a thread-safe in-memory vault.
type MemoryVault struct {
	mu      sync.RWMutex
	secrets map[string]string
	logger  *logging.ColoredLogger
}

var _ Vault = (*MemoryVault)(nil)

// NewMemoryVault returns an empty vault.
func NewMemoryVault(logger *logging.ColoredLogger) *MemoryVault {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MemoryVault{secrets: map[string]string{}, logger: logger}
}

// ResolveSecret returns the secret or a NotFoundError.
func (v *MemoryVault) ResolveSecret(_ context.Context, key string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.secrets[key]
	if !ok {
		return "", errors.NewNotFoundError("secret", key)
	}
	return s, nil
}

// StoreSecret sets or replaces a secret.
func (v *MemoryVault) StoreSecret(_ context.Context, key, value string) error {
	if key == "" {
		return errors.NewValidationError("key", "must not be empty", nil)
	}
	v.mu.Lock()
	v.secrets[key] = value
	v.mu.Unlock()
	return nil
}

// DeleteSecret removes a secret. Deleting a missing key is not an error.
func (v *MemoryVault) DeleteSecret(_ context.Context, key string) error {
	v.mu.Lock()
	delete(v.secrets, key)
	v.mu.Unlock()
	return nil
}

// Keys returns the stored secret keys.
func (v *MemoryVault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.secrets))
	for k := range v.secrets {
		keys = append(keys, k)
	}
	return keys
}

// SeedFromFiles stores the content of each file under its key.
func SeedFromFiles(ctx context.Context, v Vault, files map[string]string) error {
	for key, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read secret %s from %s: %w", key, path, err)
		}
		if err := v.StoreSecret(ctx, key, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// SeedFromProperties loads key=value lines. Blank lines and lines starting
// with # or ! are skipped; a trailing backslash continues the value on the
// next line.
func SeedFromProperties(ctx context.Context, v Vault, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open vault properties: %w", err)
	}
	defer f.Close()

	n := 0
	var pending strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if pending.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
				continue
			}
			line = trimmed
		} else {
			line = strings.TrimLeft(line, " \t")
		}
		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			pending.WriteString("\n")
			continue
		}
		pending.WriteString(line)
		entry := pending.String()
		pending.Reset()

		key, value, ok := splitProperty(entry)
		if !ok {
			continue
		}
		if err := v.StoreSecret(ctx, key, value); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read vault properties: %w", err)
	}
	return n, nil
}

func splitProperty(line string) (string, string, bool) {
	idx := strings.IndexAny(line, "=:")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// Seed applies all configured sources in order: files, properties file,
// inline secrets.
func (v *MemoryVault) Seed(ctx context.Context, files map[string]string, propertiesFile string, secrets map[string]string) error {
	if err := SeedFromFiles(ctx, v, files); err != nil {
		return err
	}
	if propertiesFile != "" {
		n, err := SeedFromProperties(ctx, v, propertiesFile)
		if err != nil {
			return err
		}
		v.logger.ComponentInfo(logging.ComponentVault, "Loaded vault properties",
			zap.String("file", propertiesFile), zap.Int("secrets", n))
	}
	for k, s := range secrets {
		if err := v.StoreSecret(ctx, k, s); err != nil {
			return err
		}
	}
	return nil
}
