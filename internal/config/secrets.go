package config

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretGetter reads the latest version of a named secret.
type SecretGetter interface {
	GetSecret(ctx context.Context, secretID string) (string, error)
}

// SecretLoader loads secrets from Google Secret Manager.
type SecretLoader struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretLoader creates a new SecretLoader.
func NewSecretLoader(ctx context.Context, projectID string) (*SecretLoader, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return &SecretLoader{
		client:    client,
		projectID: projectID,
	}, nil
}

// Close closes the secret manager client.
func (l *SecretLoader) Close() error {
	return l.client.Close()
}

// GetSecret retrieves a secret value by its ID.
func (l *SecretLoader) GetSecret(ctx context.Context, secretID string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", l.projectID, secretID)

	result, err := l.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretID, err)
	}

	return string(result.Payload.Data), nil
}

// ApplySecrets overwrites the OAuth client secret and the JWT secret with the
// values of the configured secrets. Unnamed secrets are left alone.
func (c *Config) ApplySecrets(ctx context.Context, secrets SecretGetter) error {
	overlays := []struct {
		id     string
		target *string
	}{
		{c.Secrets.ClientSecretID, &c.Google.ClientSecret},
		{c.Secrets.JWTSecretID, &c.Auth.JWTSecret},
	}

	for _, o := range overlays {
		if o.id == "" {
			continue
		}
		value, err := secrets.GetSecret(ctx, o.id)
		if err != nil {
			return err
		}
		*o.target = value
	}
	return nil
}

var _ SecretGetter = (*SecretLoader)(nil)
