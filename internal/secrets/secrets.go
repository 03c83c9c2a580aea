// Package secrets reads credentials from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"

	"github.com/traffic-tacos/auth-api/internal/config"
)

// newClient is swapped in tests.
var newClient = func(awsCfg *config.AWSConfig) (secretsmanageriface.SecretsManagerAPI, error) {
	sessConfig := &aws.Config{
		Region: aws.String(awsCfg.Region),
	}
	if awsCfg.Profile != "" {
		sessConfig.WithCredentialsChainVerboseErrors(true)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:  *sessConfig,
		Profile: awsCfg.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return secretsmanager.New(sess), nil
}

// Fetch returns one value of the secret named by awsCfg.SecretName.
// A JSON object secret is indexed by field; any other secret is returned whole.
func Fetch(ctx context.Context, awsCfg *config.AWSConfig, field string) (string, error) {
	if awsCfg.SecretName == "" {
		return "", fmt.Errorf("AWS_SECRET_NAME is not set")
	}

	svc, err := newClient(awsCfg)
	if err != nil {
		return "", err
	}

	result, err := svc.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(awsCfg.SecretName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret '%s': %w", awsCfg.SecretName, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret '%s' has no string value", awsCfg.SecretName)
	}

	return extract(*result.SecretString, field, awsCfg.SecretName)
}

func extract(raw, field, name string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return "", fmt.Errorf("secret '%s' is not a flat JSON object: %w", name, err)
	}
	value, ok := values[field]
	if !ok || value == "" {
		return "", fmt.Errorf("secret '%s' has no field %q", name, field)
	}
	return value, nil
}
