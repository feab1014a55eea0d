package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// FTPSettings configure the ftp protocol. Host, user and password may also
// come from the structured secret named by Secret (fields host, user,
// password, port, tls).
type FTPSettings struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	PasswordSecret string `mapstructure:"password_secret"`
	Secret         string `mapstructure:"secret"`
	TLS            bool   `mapstructure:"tls"`
}

// HTTPSSettings configure the https manifest protocol.
type HTTPSSettings struct {
	URL                string            `mapstructure:"url"`
	Headers            map[string]string `mapstructure:"headers"`
	TokenSecret        string            `mapstructure:"token_secret"`
	Secret             string            `mapstructure:"secret"` // structured: user, password
	InsecureSkipVerify bool              `mapstructure:"insecure_skip_verify"`
}

// AzureBlobSettings configure the azureblob protocol. Either a shared key or
// a SAS URL is required.
type AzureBlobSettings struct {
	Account    string `mapstructure:"account"`
	Container  string `mapstructure:"container"`
	ServiceURL string `mapstructure:"service_url"`
	KeySecret  string `mapstructure:"key_secret"`
	SASSecret  string `mapstructure:"sas_secret"`
}

// SFTPSettings configure the sftp protocol.
type SFTPSettings struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	User                  string `mapstructure:"user"`
	PasswordSecret        string `mapstructure:"password_secret"`
	PrivateKeySecret      string `mapstructure:"private_key_secret"`
	HostKey               string `mapstructure:"host_key"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`
}

// S3Settings configure the s3 protocol (any S3-compatible endpoint).
type S3Settings struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	UseSSL          *bool  `mapstructure:"use_ssl"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	SecretKeySecret string `mapstructure:"secret_key_secret"`
}

func decodeSettings(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return Permanent(fmt.Errorf("decoding settings: %w", err))
	}
	return nil
}

// ValidateSettings decodes cfg.Settings for its protocol and checks required
// fields. Secrets are not resolved.
func ValidateSettings(cfg domain.Configuration) error {
	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	switch cfg.Protocol {
	case domain.ProtocolFTP:
		var s FTPSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return err
		}
		if s.Secret == "" {
			require("host", s.Host)
			require("user", s.User)
			require("password_secret", s.PasswordSecret)
		}
	case domain.ProtocolHTTPS:
		var s HTTPSSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return err
		}
		require("url", s.URL)
		if s.URL != "" && !strings.HasPrefix(strings.ToLower(s.URL), "https://") && !strings.HasPrefix(strings.ToLower(s.URL), "http://") {
			return Permanent(fmt.Errorf("url %q must be an http(s) URL", s.URL))
		}
	case domain.ProtocolAzureBlob:
		var s AzureBlobSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return err
		}
		require("container", s.Container)
		if s.SASSecret == "" {
			require("account", s.Account)
			require("key_secret", s.KeySecret)
		}
	case domain.ProtocolSFTP:
		var s SFTPSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return err
		}
		require("host", s.Host)
		require("user", s.User)
		if s.PasswordSecret == "" && s.PrivateKeySecret == "" {
			missing = append(missing, "password_secret or private_key_secret")
		}
		if s.HostKey == "" && !s.InsecureIgnoreHostKey {
			missing = append(missing, "host_key")
		}
	case domain.ProtocolS3:
		var s S3Settings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return err
		}
		require("endpoint", s.Endpoint)
		require("bucket", s.Bucket)
		require("access_key_secret", s.AccessKeySecret)
		require("secret_key_secret", s.SecretKeySecret)
	default:
		return Permanent(fmt.Errorf("unsupported protocol %q", cfg.Protocol))
	}

	if len(missing) > 0 {
		return Permanent(fmt.Errorf("%s settings: missing %s", cfg.Protocol, strings.Join(missing, ", ")))
	}
	return nil
}

// secretValue resolves a plain secret key in the client's scope.
func secretValue(secrets SecretsResolver, scope, key string) (string, error) {
	if secrets == nil {
		return "", Permanent(errors.New("secrets store not configured"))
	}
	v, err := secrets.Resolve(scope, key)
	if err != nil {
		return "", Permanent(fmt.Errorf("resolving secret %q: %w", key, err))
	}
	return v, nil
}

// secretField returns inline when set, otherwise the field of a structured secret.
func secretField(secrets SecretsResolver, scope, secret, field, inline string) (string, error) {
	if inline != "" || secret == "" {
		return inline, nil
	}
	if secrets == nil {
		return "", Permanent(errors.New("secrets store not configured"))
	}
	v, err := secrets.ResolveField(scope, secret, field)
	if err != nil {
		return "", Permanent(fmt.Errorf("resolving %s.%s: %w", secret, field, err))
	}
	return v, nil
}
