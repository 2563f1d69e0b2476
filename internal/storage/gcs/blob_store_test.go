package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	var gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/exports/o")
		gotName = r.URL.Query().Get("name")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bucket":"exports","name":"` + gotName + `"}`))
	}))
	defer srv.Close()

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	store, err := New(client, Config{Bucket: "exports", Prefix: "/influence/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "results/job-1.json", "application/json",
		strings.NewReader(`{"job_id":"job-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://exports/influence/results/job-1.json", uri)
	assert.Equal(t, "influence/results/job-1.json", gotName)
	assert.Contains(t, gotBody, `{"job_id":"job-1"}`)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader(""))
	require.Error(t, err)
}
