package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

func TestMemoryVault(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(nil)

	if _, err := v.ResolveSecret(ctx, "missing"); !errors.IsNotFound(err) {
		t.Fatalf("missing secret: got %v", err)
	}
	if err := v.StoreSecret(ctx, "", "x"); !errors.IsValidation(err) {
		t.Errorf("empty key: got %v", err)
	}
	if err := v.StoreSecret(ctx, "aws", `{"accessKeyId":"a"}`); err != nil {
		t.Fatal(err)
	}
	got, err := v.ResolveSecret(ctx, "aws")
	if err != nil || got != `{"accessKeyId":"a"}` {
		t.Fatalf("ResolveSecret() = %q, %v", got, err)
	}
	_ = v.DeleteSecret(ctx, "aws")
	if _, err := v.ResolveSecret(ctx, "aws"); !errors.IsNotFound(err) {
		t.Errorf("deleted secret still resolvable")
	}
}

func TestSeedFromProperties(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.properties")
	content := "# comment\n" +
		"! other comment\n" +
		"\n" +
		"authKey = secret-value\n" +
		"multi=line one\\\n" +
		"   line two\n" +
		"colon: value\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	v := NewMemoryVault(nil)
	n, err := SeedFromProperties(ctx, v, path)
	if err != nil {
		t.Fatalf("SeedFromProperties() error = %v", err)
	}
	if n != 3 {
		t.Errorf("loaded %d secrets, want 3", n)
	}
	want := map[string]string{
		"authKey": "secret-value",
		"multi":   "line one\nline two",
		"colon":   "value",
	}
	for k, w := range want {
		if got, _ := v.ResolveSecret(ctx, k); got != w {
			t.Errorf("%s = %q, want %q", k, got, w)
		}
	}
}

func TestSeed(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(keyFile, []byte("pem-data"), 0600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	v := NewMemoryVault(nil)
	err := v.Seed(ctx, map[string]string{"private-key": keyFile}, "", map[string]string{"inline": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := v.ResolveSecret(ctx, "private-key"); got != "pem-data" {
		t.Errorf("file secret = %q", got)
	}
	if got, _ := v.ResolveSecret(ctx, "inline"); got != "x" {
		t.Errorf("inline secret = %q", got)
	}

	if err := v.Seed(ctx, map[string]string{"k": filepath.Join(dir, "nope")}, "", nil); err == nil {
		t.Error("missing file should fail")
	}
}

func TestSigningKey(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(nil)

	first, generated, err := SigningKey(ctx, v, "private-key")
	if err != nil || !generated {
		t.Fatalf("first SigningKey() generated=%v err=%v", generated, err)
	}
	second, generated, err := SigningKey(ctx, v, "private-key")
	if err != nil || generated {
		t.Fatalf("second SigningKey() generated=%v err=%v", generated, err)
	}
	if !first.Equal(second) {
		t.Error("stored key was not reused")
	}

	path := filepath.Join(t.TempDir(), "keys", "signing.pem")
	if err := SaveSigningKey(first, path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	parsed, err := ParsePrivateKey(string(data))
	if err != nil || !parsed.Equal(first) {
		t.Errorf("saved key does not parse back: %v", err)
	}
	if _, err := ParsePrivateKey("garbage"); err == nil {
		t.Error("garbage should not parse")
	}
}
