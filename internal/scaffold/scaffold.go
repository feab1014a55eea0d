// Package scaffold writes starter configuration files.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Create scaffolds dir/client/name.toml for the given protocol and returns
// its path.
func Create(dir, client, name string, protocol domain.Protocol) (string, error) {
	if !validName.MatchString(client) {
		return "", fmt.Errorf("invalid client id %q: must match [a-z0-9][a-z0-9_-]*", client)
	}
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid configuration id %q: must match [a-z0-9][a-z0-9_-]*", name)
	}
	settings, ok := settingsTemplates[protocol]
	if !ok {
		return "", fmt.Errorf("unsupported protocol %q", protocol)
	}

	clientDir := filepath.Join(dir, client)
	path := filepath.Join(clientDir, name+".toml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("configuration already exists: %s", path)
	}
	if err := os.MkdirAll(clientDir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", clientDir, err)
	}

	if err := os.WriteFile(path, []byte(configToml(name, protocol, settings)), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

var settingsTemplates = map[domain.Protocol]string{
	domain.ProtocolFTP: `host = "ftp.example.com"
port = 21
user = "changeme"
password_secret = "ftp_password"
tls = false`,
	domain.ProtocolHTTPS: `url = "https://files.example.com/manifest?path={path}"
token_secret = "api_token"`,
	domain.ProtocolAzureBlob: `account = "changeme"
container = "inbound"
key_secret = "storage_key"`,
	domain.ProtocolSFTP: `host = "sftp.example.com"
port = 22
user = "changeme"
private_key_secret = "sftp_key"
host_key = "ssh-ed25519 AAAA... replace with the server host key"`,
	domain.ProtocolS3: `endpoint = "s3.amazonaws.com"
bucket = "inbound"
region = "eu-west-2"
access_key_secret = "s3_access_key"
secret_key_secret = "s3_secret_key"`,
}

func configToml(name string, protocol domain.Protocol, settings string) string {
	return fmt.Sprintf(`name = "%s"
protocol = "%s"
path_pattern = "/inbound"
filename_pattern = "*"
extension = "csv"
cron = "*/15 * * * *"
timezone = "UTC"
active = false

[settings]
%s

[[events]]
type = "FileAvailable"
metadata = { source = "%s" }
`, name, protocol, settings, name)
}
