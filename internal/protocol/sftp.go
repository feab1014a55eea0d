package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

type sftpAdapter struct {
	ssh    *ssh.Client
	client *sftp.Client
	base   string
}

func newSFTP(ctx context.Context, cfg domain.Configuration, secrets SecretsResolver, opts Options) (*sftpAdapter, error) {
	var s SFTPSettings
	if err := decodeSettings(cfg.Settings, &s); err != nil {
		return nil, err
	}
	if s.Host == "" || s.User == "" {
		return nil, Permanent(errors.New("sftp settings: host and user are required"))
	}

	var auth []ssh.AuthMethod
	if s.PrivateKeySecret != "" {
		pem, err := secretValue(secrets, cfg.ClientID, s.PrivateKeySecret)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey([]byte(pem))
		if err != nil {
			return nil, Permanent(fmt.Errorf("parsing private key: %w", err))
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.PasswordSecret != "" {
		password, err := secretValue(secrets, cfg.ClientID, s.PasswordSecret)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, Permanent(errors.New("sftp settings: password_secret or private_key_secret is required"))
	}

	hostKey, err := hostKeyCallback(s)
	if err != nil {
		return nil, err
	}

	port := s.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(port))
	sshCfg := &ssh.ClientConfig{
		User:            s.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         opts.connectTimeout(),
	}

	dialer := &net.Dialer{Timeout: opts.connectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, classifySFTP(fmt.Errorf("ssh handshake with %s: %w", addr, err))
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("starting sftp session: %w", err)
	}

	base := "sftp://" + s.Host
	if port != 22 {
		base = "sftp://" + addr
	}
	return &sftpAdapter{ssh: sshClient, client: client, base: base}, nil
}

func hostKeyCallback(s SFTPSettings) (ssh.HostKeyCallback, error) {
	if s.HostKey != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s.HostKey))
		if err != nil {
			return nil, Permanent(fmt.Errorf("parsing host_key: %w", err))
		}
		return ssh.FixedHostKey(key), nil
	}
	if s.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, Permanent(errors.New("sftp settings: host_key is required unless insecure_ignore_host_key is set"))
}

func (a *sftpAdapter) List(ctx context.Context, q Query) ([]domain.RemoteFile, error) {
	stop := context.AfterFunc(ctx, func() { a.ssh.Close() })
	defer stop()

	return list(ctx, q, func(ctx context.Context, m *Matcher) ([]domain.RemoteFile, error) {
		var files []domain.RemoteFile
		pending := []string{m.Root()}
		for len(pending) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			dir := pending[0]
			pending = pending[1:]

			infos, err := a.client.ReadDir(dir)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, classifySFTP(fmt.Errorf("reading %q: %w", dir, err))
			}
			for _, info := range infos {
				p := path.Join(dir, info.Name())
				if info.IsDir() {
					if m.Recursive() {
						pending = append(pending, p)
					}
					continue
				}
				if !info.Mode().IsRegular() {
					continue
				}
				files = append(files, domain.RemoteFile{
					Name:         info.Name(),
					Path:         p,
					Size:         info.Size(),
					LastModified: info.ModTime().UTC(),
					URI:          a.base + p,
				})
			}
		}
		return files, nil
	})
}

func (a *sftpAdapter) Close() error {
	err := a.client.Close()
	if cerr := a.ssh.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

// classifySFTP marks authentication failures, missing paths and permission
// errors permanent.
func classifySFTP(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return Permanent(err)
	}
	var status *sftp.StatusError
	if errors.As(err, &status) {
		switch status.FxCode() {
		case sftp.ErrSSHFxNoSuchFile, sftp.ErrSSHFxPermissionDenied:
			return Permanent(err)
		}
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return Permanent(err)
	}
	return err
}
