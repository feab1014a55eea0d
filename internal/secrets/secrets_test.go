package secrets

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"filippo.io/age/armor"
)

const validTOML = `
[global]
ftp_default_password = "global_ftp"
shared_key = "global_shared"

[acme]
ftp_password = "s3cret"
shared_key = "project_shared"

[acme.blob]
account = "acmestorage"
key = "c2VjcmV0"
port = 2121
`

func writeSecretsFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing secrets file: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeSecretsFile(t, validTOML)
	store, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if store == nil {
		t.Fatal("Load() returned nil store for valid file")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	store, err := Load("", "")
	if err != nil {
		t.Fatalf("Load('') unexpected error: %v", err)
	}
	if store != nil {
		t.Error("Load('') should return nil store")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/secrets.toml", "")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeSecretsFile(t, "not valid toml [[[")
	_, err := Load(path, "")
	if err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestResolve_ClientScoped(t *testing.T) {
	path := writeSecretsFile(t, validTOML)
	store, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	val, err := store.Resolve("acme", "ftp_password")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if val != "s3cret" {
		t.Errorf("Resolve() = %q, want %q", val, "s3cret")
	}
}

func TestResolve_GlobalFallback(t *testing.T) {
	path := writeSecretsFile(t, validTOML)
	store, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	val, err := store.Resolve("acme", "ftp_default_password")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if val != "global_ftp" {
		t.Errorf("Resolve() = %q, want %q", val, "global_ftp")
	}
}

func TestResolve_ClientOverridesGlobal(t *testing.T) {
	path := writeSecretsFile(t, validTOML)
	store, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	val, err := store.Resolve("acme", "shared_key")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if val != "project_shared" {
		t.Errorf("Resolve() = %q, want %q (client should override global)", val, "project_shared")
	}
}

func TestResolve_UnknownClientFallsToGlobal(t *testing.T) {
	path := writeSecretsFile(t, validTOML)
	store, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	val, err := store.Resolve("unknown_client", "ftp_default_password")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if val != "global_ftp" {
		t.Errorf("Resolve() = %q, want %q", val, "global_ftp")
	}
}

func TestResolve_MissingKey(t *testing.T) {
	path := writeSecretsFile(t, validTOML)
	store, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	_, err = store.Resolve("acme", "nonexistent")
	if err == nil {
		t.Error("Resolve() expected error for missing key, got nil")
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("error = %q, want it to contain %q", err, "nonexistent")
	}
}

func TestResolve_EmptyClientSection(t *testing.T) {
	tomlContent := `
[global]
api_key = "global_api"

[empty_client]
`
	path := writeSecretsFile(t, tomlContent)
	store, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	val, err := store.Resolve("empty_client", "api_key")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if val != "global_api" {
		t.Errorf("Resolve() = %q, want %q (empty client should fall through to global)", val, "global_api")
	}
}

func TestResolveField(t *testing.T) {
	store, err := Load(writeSecretsFile(t, validTOML), "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	tests := []struct {
		field   string
		want    string
		wantErr bool
	}{
		{field: "account", want: "acmestorage"},
		{field: "port", want: "2121"},
		{field: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, err := store.ResolveField("acme", "blob", tt.field)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ResolveField(%q) expected error, got nil", tt.field)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveField(%q) error: %v", tt.field, err)
			}
			if got != tt.want {
				t.Errorf("ResolveField(%q) = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestResolve_TableIsNotPlain(t *testing.T) {
	store, err := Load(writeSecretsFile(t, validTOML), "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if _, err := store.Resolve("acme", "blob"); err == nil {
		t.Error("Resolve() expected error for structured secret, got nil")
	}
	if _, err := store.ResolveField("acme", "ftp_password", "host"); err == nil {
		t.Error("ResolveField() expected error for plain secret, got nil")
	}
}

func encryptSecrets(t *testing.T, plaintext string, armored bool) (secretsPath, identityPath string) {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}

	var buf bytes.Buffer
	var dst io.Writer = &buf
	var aw io.WriteCloser
	if armored {
		aw = armor.NewWriter(&buf)
		dst = aw
	}
	w, err := age.Encrypt(dst, identity.Recipient())
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		t.Fatalf("writing plaintext: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing encryptor: %v", err)
	}
	if aw != nil {
		if err := aw.Close(); err != nil {
			t.Fatalf("closing armor: %v", err)
		}
	}

	dir := t.TempDir()
	secretsPath = filepath.Join(dir, "secrets.toml.age")
	identityPath = filepath.Join(dir, "key.txt")
	if err := os.WriteFile(secretsPath, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("writing encrypted secrets: %v", err)
	}
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0o600); err != nil {
		t.Fatalf("writing identity: %v", err)
	}
	return secretsPath, identityPath
}

func TestLoad_AgeEncrypted(t *testing.T) {
	for _, armored := range []bool{false, true} {
		name := "binary"
		if armored {
			name = "armored"
		}
		t.Run(name, func(t *testing.T) {
			path, key := encryptSecrets(t, validTOML, armored)
			store, err := Load(path, key)
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			val, err := store.Resolve("acme", "ftp_password")
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}
			if val != "s3cret" {
				t.Errorf("Resolve() = %q, want %q", val, "s3cret")
			}
		})
	}
}

func TestLoad_AgeEncryptedWithoutIdentity(t *testing.T) {
	path, _ := encryptSecrets(t, validTOML, false)
	if _, err := Load(path, ""); err == nil {
		t.Error("Load() expected error without identity, got nil")
	}
}
