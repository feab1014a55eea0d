package protocol

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

type azureBlobAdapter struct {
	client    *azblob.Client
	container string
	// baseURL is the service URL without query string, used to build file URIs.
	baseURL string
}

func newAzureBlob(cfg domain.Configuration, secrets SecretsResolver, opts Options) (*azureBlobAdapter, error) {
	var s AzureBlobSettings
	if err := decodeSettings(cfg.Settings, &s); err != nil {
		return nil, err
	}
	if s.Container == "" {
		return nil, Permanent(errors.New("azureblob settings: container is required"))
	}

	clientOpts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{TryTimeout: opts.connectTimeout()},
		},
	}

	var (
		client     *azblob.Client
		serviceURL string
		err        error
	)
	switch {
	case s.SASSecret != "":
		sasURL, serr := secretValue(secrets, cfg.ClientID, s.SASSecret)
		if serr != nil {
			return nil, serr
		}
		client, err = azblob.NewClientWithNoCredential(sasURL, clientOpts)
		serviceURL = sasURL
	default:
		if s.Account == "" || s.KeySecret == "" {
			return nil, Permanent(errors.New("azureblob settings: account and key_secret are required without sas_secret"))
		}
		key, kerr := secretValue(secrets, cfg.ClientID, s.KeySecret)
		if kerr != nil {
			return nil, kerr
		}
		cred, cerr := azblob.NewSharedKeyCredential(s.Account, key)
		if cerr != nil {
			return nil, Permanent(fmt.Errorf("azureblob shared key: %w", cerr))
		}
		serviceURL = s.ServiceURL
		if serviceURL == "" {
			serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", s.Account)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, clientOpts)
	}
	if err != nil {
		return nil, Permanent(fmt.Errorf("azureblob client: %w", err))
	}

	base := serviceURL
	if u, perr := url.Parse(serviceURL); perr == nil {
		u.RawQuery = ""
		base = u.String()
	}
	return &azureBlobAdapter{
		client:    client,
		container: s.Container,
		baseURL:   strings.TrimSuffix(base, "/"),
	}, nil
}

func (a *azureBlobAdapter) List(ctx context.Context, q Query) ([]domain.RemoteFile, error) {
	return list(ctx, q, func(ctx context.Context, m *Matcher) ([]domain.RemoteFile, error) {
		prefix := objectPrefix(m.Root())
		pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})

		var files []domain.RemoteFile
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, classifyAzure(fmt.Errorf("listing container %q: %w", a.container, err))
			}
			if page.Segment == nil {
				continue
			}
			for _, item := range page.Segment.BlobItems {
				if item == nil || item.Name == nil {
					continue
				}
				name := *item.Name
				f := domain.RemoteFile{
					Name: name[strings.LastIndex(name, "/")+1:],
					Path: "/" + name,
					URI:  a.baseURL + "/" + a.container + "/" + name,
				}
				if props := item.Properties; props != nil {
					if props.ContentLength != nil {
						f.Size = *props.ContentLength
					}
					if props.LastModified != nil {
						f.LastModified = props.LastModified.UTC()
					}
					if len(props.ContentMD5) > 0 {
						f.ContentHash = hex.EncodeToString(props.ContentMD5)
					}
				}
				files = append(files, f)
			}
		}
		return files, nil
	})
}

func (a *azureBlobAdapter) Close() error { return nil }

// classifyAzure marks forbidden and not-found responses permanent.
func classifyAzure(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusForbidden, http.StatusNotFound:
			return Permanent(err)
		}
	}
	return err
}
