// Package integration holds helpers for tests that need a real FUSE mount
// or an S3 endpoint. Tests using it carry the integration build tag.
package integration

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/reusetrack/reusetrack-go/internal/credentials"
	"github.com/reusetrack/reusetrack-go/internal/fuse"
	"github.com/reusetrack/reusetrack-go/internal/provenance"
	"github.com/reusetrack/reusetrack-go/internal/s3client"
	"github.com/reusetrack/reusetrack-go/internal/storage"
	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

const (
	LocalStackEndpoint = "http://localhost:4566"
	LocalStackBucket   = "reusetrack-integration"
	LocalStackRegion   = "us-east-1"
)

// Provider is the S3 service the s3 store tests run against
type Provider string

const (
	ProviderLocalStack Provider = "localstack"
	ProviderS3         Provider = "s3"
	ProviderR2         Provider = "r2"
	// ProviderContainer starts a throwaway LocalStack through Docker
	ProviderContainer Provider = "container"
)

// GetProvider reads S3_PROVIDER; LocalStack is the default
func GetProvider() Provider {
	switch strings.ToLower(os.Getenv("S3_PROVIDER")) {
	case "s3", "aws":
		return ProviderS3
	case "r2", "cloudflare":
		return ProviderR2
	case "container", "testcontainers":
		return ProviderContainer
	default:
		return ProviderLocalStack
	}
}

// IsLocalStackAvailable checks if LocalStack is running
func IsLocalStackAvailable() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(LocalStackEndpoint + "/_localstack/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// S3StoreConfig returns the s3 store configuration for the selected
// provider, skipping the test when the provider is not reachable. On
// LocalStack the bucket is created; elsewhere it must exist. prefix
// isolates one test run.
func S3StoreConfig(t *testing.T, prefix string) storage.Config {
	t.Helper()
	options := map[string]any{"prefix": prefix, "region": LocalStackRegion}

	switch GetProvider() {
	case ProviderLocalStack:
		if !IsLocalStackAvailable() {
			t.Skip("LocalStack is not available")
		}
		t.Setenv("AWS_ACCESS_KEY_ID", "test")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
		options["endpoint"] = LocalStackEndpoint
		ensureLocalStackBucket(t, LocalStackEndpoint, bucketName())
	case ProviderContainer:
		endpoint := startLocalStack(t)
		t.Setenv("AWS_ACCESS_KEY_ID", "test")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
		options["endpoint"] = endpoint
		ensureLocalStackBucket(t, endpoint, bucketName())
	case ProviderR2:
		endpoint := os.Getenv("R2_ENDPOINT")
		if endpoint == "" {
			t.Skip("R2_ENDPOINT is not set")
		}
		options["endpoint"] = endpoint
		options["region"] = "auto"
	}

	return storage.Config{Type: storage.StoreTypeS3, DSN: bucketName(), Options: options}
}

func bucketName() string {
	if bucket := os.Getenv("REUSETRACK_S3_BUCKET"); bucket != "" {
		return bucket
	}
	return LocalStackBucket
}

// startLocalStack runs LocalStack in a container for the rest of the
// test and returns its S3 endpoint. Requires Docker.
func startLocalStack(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container provider in short mode")
	}
	ctx := context.Background()

	container, err := localstack.RunContainer(ctx,
		testcontainers.WithImage("localstack/localstack:3.0"),
	)
	if err != nil {
		t.Skipf("Failed to start LocalStack: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "")
	if err != nil {
		t.Fatalf("Failed to get endpoint: %v", err)
	}
	return "http://" + endpoint
}

func ensureLocalStackBucket(t *testing.T, endpoint, bucket string) {
	t.Helper()
	creds := &credentials.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}
	client := s3client.NewClientWithEndpoint(bucket, LocalStackRegion, endpoint, creds)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.ListObjects(ctx, ""); err == nil {
		return
	}
	if err := client.CreateBucket(ctx); err != nil &&
		!strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") &&
		!strings.Contains(err.Error(), "BucketAlreadyExists") {
		t.Fatalf("Failed to create bucket: %v", err)
	}
}

// RequireFUSE skips the test unless this host can mount FUSE filesystems
func RequireFUSE(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse is not available")
	}
	if _, err := exec.LookPath("fusermount"); err != nil {
		if _, err := exec.LookPath("fusermount3"); err != nil {
			t.Skip("fusermount is not installed")
		}
	}
}

// Mounted is a tracked passthrough mount backed by a temporary root
type Mounted struct {
	Root       string
	Mountpoint string
	Store      types.Store
	Logs       *logtest.Hook
}

// MountTracked mounts a fresh backing directory with a provenance tracker
// writing to store. The mount is torn down when the test ends.
func MountTracked(t *testing.T, store types.Store) *Mounted {
	t.Helper()
	RequireFUSE(t)

	m := &Mounted{Root: t.TempDir(), Mountpoint: t.TempDir(), Store: store}
	logger, hook := logtest.NewNullLogger()
	m.Logs = hook

	fp, err := provenance.NewFingerprinter(provenance.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	filesystem, err := fuse.NewFilesystem(m.Root, provenance.NewTracker(store, fp, logger))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- fuse.Mount(ctx, m.Mountpoint, fuse.WithLogging(filesystem, logger), fuse.MountOptions{Logger: logger})
	}()

	if err := waitForMount(m, served); err != nil {
		cancel()
		t.Skipf("mount failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-served:
		case <-time.After(10 * time.Second):
			t.Error("filesystem did not unmount")
		}
	})
	return m
}

// waitForMount polls for a marker file written to the backing root to
// show up under the mountpoint
func waitForMount(m *Mounted, served <-chan error) error {
	marker := ".reusetrack-ready"
	if err := os.WriteFile(filepath.Join(m.Root, marker), nil, 0644); err != nil {
		return err
	}
	defer os.Remove(filepath.Join(m.Root, marker))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-served:
			if err == nil {
				err = os.ErrClosed
			}
			return err
		default:
		}
		if _, err := os.Stat(filepath.Join(m.Mountpoint, marker)); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return context.DeadlineExceeded
}

// Path returns name inside the mountpoint
func (m *Mounted) Path(name string) string {
	return filepath.Join(m.Mountpoint, name)
}
