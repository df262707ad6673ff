package keysource

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the AWS Secrets Manager client this
// package uses, wrapped so tests can supply a fake instead of a live
// session.
//
//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 . SecretsManagerAPI
type SecretsManagerAPI interface {
	GetSecretValue(input *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
}

// NewClient returns a new SecretsManagerAPI client for session sess.
func NewClient(sess *session.Session) SecretsManagerAPI {
	return secretsmanager.New(sess)
}

// SecretsManagerSource fetches the master key material (base64-encoded, 32
// bytes decoded) from an AWS Secrets Manager secret, for deployments that
// keep the master key outside process environment entirely. The fetched
// value is cached in-process for the lifetime of the source.
type SecretsManagerSource struct {
	client   SecretsManagerAPI
	secretID string

	once   sync.Once
	key    [32]byte
	keyErr error
}

// NewSecretsManagerSource returns a SecretsManagerSource reading secretID
// from client.
func NewSecretsManagerSource(client SecretsManagerAPI, secretID string) *SecretsManagerSource {
	return &SecretsManagerSource{client: client, secretID: secretID}
}

// Key implements hive.KeySource.
func (s *SecretsManagerSource) Key(_ context.Context) ([32]byte, error) {
	s.once.Do(func() {
		out, err := s.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
			SecretId: aws.String(s.secretID),
		})
		if err != nil {
			s.keyErr = fmt.Errorf("keysource: fetch secret %s: %w", s.secretID, err)
			return
		}
		key, err := decodeKey(aws.StringValue(out.SecretString))
		if err != nil {
			s.keyErr = fmt.Errorf("keysource: decode secret %s: %w", s.secretID, err)
			return
		}
		s.key = key
	})
	return s.key, s.keyErr
}
