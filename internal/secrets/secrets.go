// Package secrets fills token signing secrets from AWS Secrets Manager.
//
// Secret values are never logged; only their IDs and outcomes are.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-users-backend/internal/config"
)

// AWS error codes mapped to sentinel errors.
const (
	codeNotFound     = "ResourceNotFoundException"
	codeAccessDenied = "AccessDeniedException"
)

var (
	// ErrSecretNotFound is returned when the secret ID does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretEmpty is returned when a secret has no string value.
	ErrSecretEmpty = errors.New("secret value is empty")
	// ErrAccessDenied is returned when the credentials may not read the secret.
	ErrAccessDenied = errors.New("access denied to secret")
)

// ManagerAPI is the subset of the Secrets Manager client used here.
type ManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// Loader reads secret strings. It is safe for concurrent use.
type Loader struct {
	api ManagerAPI
	log zerolog.Logger
}

// NewLoader builds a Loader from the default AWS credential chain. An empty
// region defers to the SDK's own resolution (AWS_REGION, shared config).
func NewLoader(ctx context.Context, region string, log zerolog.Logger) (*Loader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewLoaderWithAPI(secretsmanager.NewFromConfig(cfg), log), nil
}

// NewLoaderWithAPI builds a Loader over an existing client.
func NewLoaderWithAPI(api ManagerAPI, log zerolog.Logger) *Loader {
	return &Loader{api: api, log: log}
}

// Get returns the string value of the secret id.
func (l *Loader) Get(ctx context.Context, id string) (string, error) {
	out, err := l.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return "", mapError(err, id)
	}
	v := strings.TrimSpace(aws.ToString(out.SecretString))
	if v == "" {
		return "", fmt.Errorf("%s: %w", id, ErrSecretEmpty)
	}
	return v, nil
}

// ResolveAuth replaces the signing secrets of a with the values stored under
// SecretID and RefreshSecretID, when those are set. Secrets already present
// in the environment are overwritten.
func (l *Loader) ResolveAuth(ctx context.Context, a *config.AuthConfig) error {
	for _, s := range []struct {
		id  string
		dst *string
	}{
		{a.SecretID, &a.SecretKey},
		{a.RefreshSecretID, &a.RefreshSecretKey},
	} {
		if s.id == "" {
			continue
		}
		v, err := l.Get(ctx, s.id)
		if err != nil {
			return err
		}
		*s.dst = v
		l.log.Info().Str("secret_id", s.id).Msg("signing secret loaded")
	}
	return a.CheckSecrets()
}

func mapError(err error, id string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case codeNotFound:
			return fmt.Errorf("%s: %w", id, ErrSecretNotFound)
		case codeAccessDenied:
			return fmt.Errorf("%s: %w", id, ErrAccessDenied)
		}
		return fmt.Errorf("get secret %s: %s: %s", id, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("get secret %s: %w", id, err)
}
