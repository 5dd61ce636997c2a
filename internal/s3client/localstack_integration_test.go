//go:build integration

package s3client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reusetrack/reusetrack-go/internal/credentials"
)

const (
	localstackEndpoint = "http://localhost:4566"
	localstackBucket   = "reusetrack-test"
	localstackRegion   = "us-east-1"
)

// isLocalStackAvailable checks if LocalStack is running
func isLocalStackAvailable() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(localstackEndpoint + "/_localstack/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}

func setupLocalStackTest(t *testing.T) *Client {
	if !isLocalStackAvailable() {
		t.Skip("LocalStack is not available")
	}

	creds := credentials.NewCredentials()
	creds.AccessKeyID = "test"
	creds.SecretAccessKey = "test"

	client := NewClientWithEndpoint(localstackBucket, localstackRegion, localstackEndpoint, creds)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.CreateBucket(ctx))
	return client
}

func TestLocalStackObjectLifecycle(t *testing.T) {
	client := setupLocalStackTest(t)
	ctx := context.Background()

	key := "files/" + time.Now().Format("20060102150405.000000") + ".json"
	require.NoError(t, client.PutObject(ctx, key, []byte(`{"inode":1}`)))
	defer client.DeleteObject(ctx, key)

	keys, err := client.ListObjects(ctx, "files/")
	require.NoError(t, err)
	assert.Contains(t, keys, key)

	data, err := client.GetObject(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"inode":1}`, string(data))

	require.NoError(t, client.DeleteObject(ctx, key))
	_, err = client.GetObject(ctx, key)
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}
