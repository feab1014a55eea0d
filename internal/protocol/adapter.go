// Package protocol lists remote files over the supported transports.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// Query selects which remote files a listing returns.
type Query struct {
	PathPattern     string
	FilenamePattern string
	Extension       string
}

// QueryFor builds the query described by cfg.
func QueryFor(cfg domain.Configuration) Query {
	return Query{
		PathPattern:     cfg.PathPattern,
		FilenamePattern: cfg.FilenamePattern,
		Extension:       cfg.Extension,
	}
}

// Adapter lists files from one remote source. Callers must Close it.
type Adapter interface {
	List(ctx context.Context, q Query) ([]domain.RemoteFile, error)
	Close() error
}

// SecretsResolver looks up credentials scoped by client id.
type SecretsResolver interface {
	Resolve(scope, key string) (string, error)
	ResolveField(scope, secret, field string) (string, error)
}

// Options tune connection behaviour.
type Options struct {
	ConnectTimeout time.Duration
}

// DefaultConnectTimeout applies when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 30 * time.Second

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return o.ConnectTimeout
}

// New builds the adapter for cfg.Protocol. Unknown protocols and malformed
// settings are permanent errors.
func New(ctx context.Context, cfg domain.Configuration, secrets SecretsResolver, opts Options) (Adapter, error) {
	switch cfg.Protocol {
	case domain.ProtocolFTP:
		return newFTP(ctx, cfg, secrets, opts)
	case domain.ProtocolHTTPS:
		return newHTTPS(cfg, secrets, opts)
	case domain.ProtocolAzureBlob:
		return newAzureBlob(cfg, secrets, opts)
	case domain.ProtocolSFTP:
		return newSFTP(ctx, cfg, secrets, opts)
	case domain.ProtocolS3:
		return newS3(cfg, secrets, opts)
	default:
		return nil, Permanent(fmt.Errorf("unsupported protocol %q", cfg.Protocol))
	}
}

// Factory builds adapters. The dispatcher depends on this rather than New so
// tests can substitute fakes.
type Factory func(ctx context.Context, cfg domain.Configuration) (Adapter, error)

// NewFactory binds New to a secrets store and options.
func NewFactory(secrets SecretsResolver, opts Options) Factory {
	return func(ctx context.Context, cfg domain.Configuration) (Adapter, error) {
		return New(ctx, cfg, secrets, opts)
	}
}

// list runs a raw listing through the matcher built from q.
func list(ctx context.Context, q Query, fetch func(ctx context.Context, m *Matcher) ([]domain.RemoteFile, error)) ([]domain.RemoteFile, error) {
	m, err := NewMatcher(q)
	if err != nil {
		return nil, Permanent(err)
	}
	files, err := fetch(ctx, m)
	if err != nil {
		return nil, err
	}
	return m.Filter(files), nil
}
