package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

func newHTTPSTestAdapter(t *testing.T, url string, settings map[string]any) Adapter {
	t.Helper()
	if settings == nil {
		settings = map[string]any{}
	}
	settings["url"] = url
	a, err := New(context.Background(), domain.Configuration{
		ClientID: "acme",
		Protocol: domain.ProtocolHTTPS,
		Settings: settings,
	}, mapSecrets{
		values: map[string]string{"acme/api_token": "s3cret"},
		fields: map[string]map[string]string{"acme/basic": {"user": "bob", "password": "pw"}},
	}, Options{ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestHTTPS_ListManifestArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "/in/manifest.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"name":"a.csv","size":10,"lastModified":"2024-03-01T10:00:00Z","url":"/download/a.csv"},
			{"name":"b.txt","size":5,"lastModified":"2024-03-01T10:00:00Z"},
			{"path":"/in/c.csv","size":7,"lastModified":"2024-03-01T11:00:00+01:00","hash":"abc"}
		]`))
	}))
	defer srv.Close()

	a := newHTTPSTestAdapter(t, srv.URL+"/{path}/manifest.json", map[string]any{"token_secret": "api_token"})
	files, err := a.List(context.Background(), Query{PathPattern: "/in/*.csv"})
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "a.csv", files[0].Name)
	assert.Equal(t, "/in/a.csv", files[0].Path)
	assert.Equal(t, int64(10), files[0].Size)
	assert.Equal(t, srv.URL+"/download/a.csv", files[0].URI)

	assert.Equal(t, "c.csv", files[1].Name)
	assert.Equal(t, "abc", files[1].ContentHash)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), files[1].LastModified)
	assert.Equal(t, srv.URL+"/in/c.csv", files[1].URI)
}

func TestHTTPS_ListManifestObjectWithBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "bob" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"files":[{"name":"x.csv","size":1,"lastModified":"2024-03-01T10:00:00Z"}]}`))
	}))
	defer srv.Close()

	a := newHTTPSTestAdapter(t, srv.URL, map[string]any{"secret": "basic"})
	files, err := a.List(context.Background(), Query{PathPattern: "/"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/x.csv", files[0].Path)
}

func TestHTTPS_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{status: http.StatusUnauthorized, permanent: false},
		{status: http.StatusRequestTimeout, permanent: false},
		{status: http.StatusTooManyRequests, permanent: false},
		{status: http.StatusInternalServerError, permanent: false},
		{status: http.StatusServiceUnavailable, permanent: false},
		{status: http.StatusForbidden, permanent: true},
		{status: http.StatusNotFound, permanent: true},
		{status: http.StatusBadRequest, permanent: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a := newHTTPSTestAdapter(t, srv.URL, nil)
			_, err := a.List(context.Background(), Query{PathPattern: "/"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err), "error: %v", err)
		})
	}
}

func TestHTTPS_MalformedManifestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	a := newHTTPSTestAdapter(t, srv.URL, nil)
	_, err := a.List(context.Background(), Query{PathPattern: "/"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestHTTPS_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	a := newHTTPSTestAdapter(t, srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.List(ctx, Query{PathPattern: "/"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
