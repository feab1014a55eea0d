package secrets

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/BurntSushi/toml"
)

// ageHeader prefixes binary age files.
const ageHeader = "age-encryption.org/v1"

// Store holds secrets parsed from a TOML file, organised by section.
// Sections are tenant client ids; resolution checks the tenant section first,
// then falls back to [global]. A value is either a plain string or a table of
// fields (a structured secret such as host/user/password).
type Store struct {
	data map[string]map[string]any
}

// Load parses a TOML secrets file and returns a Store.
// If path is empty, returns nil (secrets are optional). Files encrypted with
// age (binary or armored) are decrypted with the identities in identityPath.
func Load(path, identityPath string) (*Store, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file %q: %w", path, err)
	}

	if isEncrypted(raw) {
		raw, err = decrypt(raw, identityPath)
		if err != nil {
			return nil, fmt.Errorf("decrypting secrets file %q: %w", path, err)
		}
	}

	return Parse(raw)
}

// Parse builds a Store from plaintext TOML.
func Parse(raw []byte) (*Store, error) {
	var data map[string]map[string]any
	if err := toml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing secrets: %w", err)
	}
	return &Store{data: data}, nil
}

func isEncrypted(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return bytes.HasPrefix(trimmed, []byte(ageHeader)) || bytes.HasPrefix(trimmed, []byte(armor.Header))
}

func decrypt(raw []byte, identityPath string) ([]byte, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("file is age encrypted but no identity file is configured")
	}
	keyFile, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer keyFile.Close()

	identities, err := age.ParseIdentities(keyFile)
	if err != nil {
		return nil, fmt.Errorf("parsing identities: %w", err)
	}

	var src io.Reader = bytes.NewReader(raw)
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(armor.Header)) {
		src = armor.NewReader(bytes.NewReader(bytes.TrimSpace(raw)))
	}

	r, err := age.Decrypt(src, identities...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (s *Store) lookup(scope, key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if section, ok := s.data[scope]; ok {
		if val, ok := section[key]; ok {
			return val, true
		}
	}
	if section, ok := s.data["global"]; ok {
		if val, ok := section[key]; ok {
			return val, true
		}
	}
	return nil, false
}

// Resolve looks up a plain secret by key, checking the tenant section first
// then falling back to the [global] section.
func (s *Store) Resolve(scope, key string) (string, error) {
	val, ok := s.lookup(scope, key)
	if !ok {
		return "", fmt.Errorf("secret %q not found for client %q", key, scope)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("secret %q for client %q is a table, use a field lookup", key, scope)
	}
	return str, nil
}

// ResolveField looks up one field of a structured secret.
func (s *Store) ResolveField(scope, secret, field string) (string, error) {
	val, ok := s.lookup(scope, secret)
	if !ok {
		return "", fmt.Errorf("secret %q not found for client %q", secret, scope)
	}
	table, ok := val.(map[string]any)
	if !ok {
		return "", fmt.Errorf("secret %q for client %q is not a table", secret, scope)
	}
	fv, ok := table[field]
	if !ok {
		return "", fmt.Errorf("field %q not found in secret %q", field, secret)
	}
	return fmt.Sprint(fv), nil
}
