package protocol

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/ftp"
)

type ftpAdapter struct {
	client *ftp.Client
	base   string
}

func newFTP(ctx context.Context, cfg domain.Configuration, secrets SecretsResolver, opts Options) (*ftpAdapter, error) {
	var s FTPSettings
	if err := decodeSettings(cfg.Settings, &s); err != nil {
		return nil, err
	}

	host, err := secretField(secrets, cfg.ClientID, s.Secret, "host", s.Host)
	if err != nil {
		return nil, err
	}
	user, err := secretField(secrets, cfg.ClientID, s.Secret, "user", s.User)
	if err != nil {
		return nil, err
	}
	var password string
	if s.PasswordSecret != "" {
		password, err = secretValue(secrets, cfg.ClientID, s.PasswordSecret)
	} else {
		password, err = secretField(secrets, cfg.ClientID, s.Secret, "password", "")
	}
	if err != nil {
		return nil, err
	}

	port := s.Port
	if port == 0 && s.Secret != "" && secrets != nil {
		if v, err := secrets.ResolveField(cfg.ClientID, s.Secret, "port"); err == nil {
			port, _ = strconv.Atoi(v)
		}
	}
	useTLS := s.TLS
	if !useTLS && s.Secret != "" && secrets != nil {
		if v, err := secrets.ResolveField(cfg.ClientID, s.Secret, "tls"); err == nil {
			useTLS = v == "true"
		}
	}
	if host == "" || user == "" {
		return nil, Permanent(fmt.Errorf("ftp settings: host and user are required"))
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.connectTimeout())
	defer cancel()
	client, err := ftp.Connect(dialCtx, ftp.Options{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		TLS:      useTLS,
		Timeout:  opts.connectTimeout(),
	})
	if err != nil {
		return nil, classifyFTP(err)
	}

	scheme := "ftp"
	if useTLS {
		scheme = "ftps"
	}
	hostPort := host
	if port != 0 && port != 21 {
		hostPort = fmt.Sprintf("%s:%d", host, port)
	}
	return &ftpAdapter{client: client, base: (&url.URL{Scheme: scheme, Host: hostPort}).String()}, nil
}

func (a *ftpAdapter) List(ctx context.Context, q Query) ([]domain.RemoteFile, error) {
	return list(ctx, q, func(ctx context.Context, m *Matcher) ([]domain.RemoteFile, error) {
		entries, err := a.client.Walk(ctx, m.Root(), m.Recursive())
		if err != nil {
			return nil, classifyFTP(err)
		}
		files := make([]domain.RemoteFile, 0, len(entries))
		for _, e := range entries {
			files = append(files, domain.RemoteFile{
				Name:         e.Name,
				Path:         e.Path,
				Size:         e.Size,
				LastModified: e.ModTime,
				URI:          a.base + e.Path,
			})
		}
		return files, nil
	})
}

func (a *ftpAdapter) Close() error {
	return a.client.Close()
}

// classifyFTP treats authentication (530) and missing path (550) replies as
// permanent. Everything else, including dial failures, is transient.
func classifyFTP(err error) error {
	switch ftp.ReplyCode(err) {
	case 530, 550:
		return Permanent(err)
	}
	return err
}
