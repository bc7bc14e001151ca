package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if c.err != nil {
		return nil, c.err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop-prod/secrets/session-hash/versions/latest"
	client.values[resource] = "remote-value"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop-prod"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "sm://session-hash")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "remote-value" {
			t.Fatalf("expected remote-value, got %s", got)
		}
	}
	if client.calls[resource] != 1 {
		t.Fatalf("expected one remote call, got %d", client.calls[resource])
	}
}

func TestResolvePinnedVersion(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/p/secrets/block/versions/7"] = "v7"

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("p"), WithFallbackFile(""))
	got, err := fetcher.ResolveSecret(ctx, "secret://block?version=7")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "v7" {
		t.Fatalf("expected v7, got %s", got)
	}
}

func TestResolveFallsBackWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("# local\nsecret://session-hash=local=value\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.err = status.Error(codes.Unavailable, "offline")

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("p"), WithFallbackFile(path))
	got, err := fetcher.Resolve(ctx, "secret://session-hash")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local=value" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolveDoesNotFallBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(newFakeSecretClient()), WithProject("p"), WithFallbackFile(""))
	if _, err := fetcher.Resolve(ctx, "secret://missing"); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestParseReferenceRejectsOtherSchemes(t *testing.T) {
	if _, err := parseReference("https://example.com/x"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := parseReference("secret://"); err == nil {
		t.Fatalf("expected missing name error")
	}
}
