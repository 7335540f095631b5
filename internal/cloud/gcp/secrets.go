// Package gcp resolves credentials stored in Google Secret Manager.
package gcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

const metadataProjectURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

// SecretFetcher reads one secret version
type SecretFetcher interface {
	FetchSecret(ctx context.Context, secretPath string) (string, error)
	Close() error
}

// SecretManagerClient wraps the GCP Secret Manager client
type SecretManagerClient struct {
	client    *secretmanager.Client
	projectID string
}

var _ SecretFetcher = (*SecretManagerClient)(nil)

// NewSecretManagerClient creates a Secret Manager client for the ambient project
func NewSecretManagerClient(ctx context.Context, opts ...option.ClientOption) (*SecretManagerClient, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	projectID, err := ProjectID(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to get project ID: %w", err)
	}

	return &SecretManagerClient{
		client:    client,
		projectID: projectID,
	}, nil
}

// ProjectID returns the project from GOOGLE_CLOUD_PROJECT / GCP_PROJECT /
// GCLOUD_PROJECT, falling back to the metadata server.
func ProjectID(ctx context.Context) (string, error) {
	for _, name := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"} {
		if projectID := os.Getenv(name); projectID != "" {
			return projectID, nil
		}
	}
	return projectIDFromMetadata(ctx, metadataProjectURL)
}

func projectIDFromMetadata(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch project ID from metadata server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}

	projectID := strings.TrimSpace(string(body))
	if projectID == "" {
		return "", fmt.Errorf("empty project ID from metadata server")
	}
	return projectID, nil
}

// FetchSecret retrieves a secret payload. secretPath may be a full
// projects/P/secrets/S/versions/V name, a projects/P/secrets/S name
// (latest version), or a bare secret name in the ambient project.
func (c *SecretManagerClient) FetchSecret(ctx context.Context, secretPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := c.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: normalizeSecretPath(c.projectID, secretPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	return strings.TrimSpace(string(result.GetPayload().GetData())), nil
}

func normalizeSecretPath(projectID, secretPath string) string {
	if strings.HasPrefix(secretPath, "projects/") {
		if strings.Contains(secretPath, "/versions/") {
			return secretPath
		}
		if strings.Contains(secretPath, "/secrets/") {
			return secretPath + "/versions/latest"
		}
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, path.Base(secretPath))
}

// Close closes the Secret Manager client
func (c *SecretManagerClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Resolver turns (inline value, secret reference) config pairs into values,
// dialing Secret Manager only when a reference is actually used.
type Resolver struct {
	newFetcher func(ctx context.Context) (SecretFetcher, error)
	fetcher    SecretFetcher
}

// NewResolver returns a Resolver backed by Secret Manager.
func NewResolver() *Resolver {
	return &Resolver{
		newFetcher: func(ctx context.Context) (SecretFetcher, error) {
			return NewSecretManagerClient(ctx)
		},
	}
}

// NewResolverWithFetcher returns a Resolver using an existing fetcher.
func NewResolverWithFetcher(f SecretFetcher) *Resolver {
	return &Resolver{fetcher: f}
}

// Resolve returns value when set, otherwise the secret at secretPath,
// otherwise "".
func (r *Resolver) Resolve(ctx context.Context, value, secretPath string) (string, error) {
	if value != "" || secretPath == "" {
		return value, nil
	}

	if r.fetcher == nil {
		f, err := r.newFetcher(ctx)
		if err != nil {
			return "", err
		}
		r.fetcher = f
	}

	secret, err := r.fetcher.FetchSecret(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", secretPath, err)
	}
	return secret, nil
}

// Close releases the underlying client, if one was created.
func (r *Resolver) Close() error {
	if r.fetcher == nil {
		return nil
	}
	return r.fetcher.Close()
}
