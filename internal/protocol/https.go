package protocol

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// manifestEntry is one file in an https manifest.
type manifestEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url"`
	Hash         string    `json:"hash"`
}

type httpsAdapter struct {
	client *resty.Client
	url    string
}

func newHTTPS(cfg domain.Configuration, secrets SecretsResolver, opts Options) (*httpsAdapter, error) {
	var s HTTPSSettings
	if err := decodeSettings(cfg.Settings, &s); err != nil {
		return nil, err
	}
	if s.URL == "" {
		return nil, Permanent(errors.New("https settings: url is required"))
	}

	client := resty.New().
		SetTimeout(opts.connectTimeout()).
		SetHeader("Accept", "application/json").
		SetHeaders(s.Headers)
	if s.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	switch {
	case s.TokenSecret != "":
		token, err := secretValue(secrets, cfg.ClientID, s.TokenSecret)
		if err != nil {
			return nil, err
		}
		client.SetAuthToken(token)
	case s.Secret != "":
		user, err := secretField(secrets, cfg.ClientID, s.Secret, "user", "")
		if err != nil {
			return nil, err
		}
		password, err := secretField(secrets, cfg.ClientID, s.Secret, "password", "")
		if err != nil {
			return nil, err
		}
		client.SetBasicAuth(user, password)
	}

	return &httpsAdapter{client: client, url: s.URL}, nil
}

func (a *httpsAdapter) List(ctx context.Context, q Query) ([]domain.RemoteFile, error) {
	return list(ctx, q, func(ctx context.Context, m *Matcher) ([]domain.RemoteFile, error) {
		target := strings.ReplaceAll(a.url, "{path}", url.PathEscape(strings.TrimPrefix(m.Root(), "/")))

		resp, err := a.client.R().SetContext(ctx).Get(target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("fetching manifest %s: %w", target, err)
		}
		if err := classifyHTTPStatus(resp.StatusCode(), resp.Status()); err != nil {
			return nil, fmt.Errorf("fetching manifest %s: %w", target, err)
		}

		entries, err := decodeManifest(resp.Body())
		if err != nil {
			return nil, Permanent(fmt.Errorf("decoding manifest %s: %w", target, err))
		}

		base, _ := url.Parse(target)
		files := make([]domain.RemoteFile, 0, len(entries))
		for _, e := range entries {
			p := e.Path
			if p == "" {
				p = path.Join(m.Root(), e.Name)
			}
			p = normalizePath(p)
			name := e.Name
			if name == "" {
				name = path.Base(p)
			}
			files = append(files, domain.RemoteFile{
				Name:         name,
				Path:         p,
				Size:         e.Size,
				LastModified: e.LastModified.UTC(),
				URI:          resolveURI(base, e.URL, p),
				ContentHash:  e.Hash,
			})
		}
		return files, nil
	})
}

func (a *httpsAdapter) Close() error {
	a.client.GetClient().CloseIdleConnections()
	return nil
}

// decodeManifest accepts either a bare array or an object with a files array.
func decodeManifest(body []byte) ([]manifestEntry, error) {
	var entries []manifestEntry
	if err := json.Unmarshal(body, &entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		Files []manifestEntry `json:"files"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Files, nil
}

func resolveURI(base *url.URL, ref, p string) string {
	if base == nil {
		return ref
	}
	if ref == "" {
		u := *base
		u.RawQuery = ""
		u.Path = p
		return u.String()
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// classifyHTTPStatus maps a response status to nil, a transient error, or a
// permanent error. Authentication, timeouts, throttling and server errors
// are worth retrying; other client errors are not.
func classifyHTTPStatus(code int, status string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("unexpected status %s", status)
	case code >= 400:
		return Permanent(fmt.Errorf("unexpected status %s", status))
	default:
		return fmt.Errorf("unexpected status %s", status)
	}
}
