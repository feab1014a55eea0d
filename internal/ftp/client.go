package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

// Entry represents a remote file's metadata.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Options configures a connection.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      bool
	Timeout  time.Duration
}

// Client wraps an FTP connection with higher-level operations.
type Client struct {
	conn *ftp.ServerConn
}

// Connect establishes an FTP connection and logs in. The dial honours ctx
// and opts.Timeout.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	port := opts.Port
	if port == 0 {
		port = 21
	}
	addr := fmt.Sprintf("%s:%d", opts.Host, port)

	dialOpts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if opts.Timeout > 0 {
		dialOpts = append(dialOpts, ftp.DialWithTimeout(opts.Timeout))
	}
	if opts.TLS {
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: opts.Host}))
	}

	conn, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if err := conn.Login(opts.User, opts.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("login as %q: %w", opts.User, err)
	}

	return &Client{conn: conn}, nil
}

// Close gracefully terminates the FTP connection.
func (c *Client) Close() error {
	return c.conn.Quit()
}

// Walk lists the files under dir. Subdirectories are descended into when
// recursive is set. Cancelling ctx aborts the listing by closing the connection.
func (c *Client) Walk(ctx context.Context, dir string, recursive bool) ([]Entry, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.Quit() })
	defer stop()

	var files []Entry
	pending := []string{dir}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := pending[0]
		pending = pending[1:]

		entries, err := c.conn.List(current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("listing %q: %w", current, err)
		}

		for _, entry := range entries {
			switch entry.Type {
			case ftp.EntryTypeFile:
				files = append(files, Entry{
					Name:    entry.Name,
					Path:    path.Join(current, entry.Name),
					Size:    int64(entry.Size),
					ModTime: entry.Time.UTC(),
				})
			case ftp.EntryTypeFolder:
				if recursive && entry.Name != "." && entry.Name != ".." {
					pending = append(pending, path.Join(current, entry.Name))
				}
			}
		}
	}
	return files, nil
}

// ReplyCode extracts the FTP reply code from err, or 0.
func ReplyCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}
