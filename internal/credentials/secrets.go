package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/joshu-sajeev/sourcestage/internal/models"
)

// ErrSecretNotFound means neither the store nor the environment holds the
// secret.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves a secret by name, falling back to the envVar
// environment variable. It returns ErrSecretNotFound when both are empty.
type SecretStore interface {
	GetSecret(ctx context.Context, name, envVar string) (string, error)
}

func fromEnv(name, envVar string) (string, error) {
	if envVar != "" {
		if v, ok := os.LookupEnv(envVar); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
}

// EnvStore reads secrets from the process environment only. The secret name
// itself is tried before the fallback variable.
type EnvStore struct{}

func (EnvStore) GetSecret(_ context.Context, name, envVar string) (string, error) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, nil
	}
	return fromEnv(name, envVar)
}

// SecretReader is the storage side of DBStore.
type SecretReader interface {
	Get(ctx context.Context, name string) (string, error)
}

// DBStore reads the secrets table.
type DBStore struct {
	repo SecretReader
}

func NewDBStore(repo SecretReader) *DBStore {
	return &DBStore{repo: repo}
}

func (s *DBStore) GetSecret(ctx context.Context, name, envVar string) (string, error) {
	v, err := s.repo.Get(ctx, name)
	switch {
	case err == nil && v != "":
		return v, nil
	case err == nil, errors.Is(err, models.ErrNotFound):
		return fromEnv(name, envVar)
	default:
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
}

// SecretsManagerAPI is the slice of the AWS Secrets Manager client AWSStore
// needs.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSStore reads plain string secrets from AWS Secrets Manager.
type AWSStore struct {
	client SecretsManagerAPI
}

func NewAWSStore(client SecretsManagerAPI) *AWSStore {
	return &AWSStore{client: client}
}

// NewAWSStoreFromEnv builds the client from the default AWS credential chain.
func NewAWSStoreFromEnv(ctx context.Context) (*AWSStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSStore(secretsmanager.NewFromConfig(cfg)), nil
}

func (s *AWSStore) GetSecret(ctx context.Context, name, envVar string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return fromEnv(name, envVar)
		}
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	if v := aws.ToString(out.SecretString); v != "" {
		return v, nil
	}
	return fromEnv(name, envVar)
}

// StoreFor picks where integration secrets are read from: env, db or aws.
func StoreFor(ctx context.Context, backend string, repo SecretReader) (SecretStore, error) {
	switch backend {
	case "env":
		return EnvStore{}, nil
	case "db":
		return NewDBStore(repo), nil
	case "aws":
		return NewAWSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown secret backend %q", backend)
	}
}
