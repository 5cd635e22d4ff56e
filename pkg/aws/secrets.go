package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretValueGetter is the Secrets Manager call SecretsClient depends on.
type SecretValueGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSecret struct {
	value   string
	fetched time.Time
}

// SecretsClient reads Secrets Manager values. Values are cached for ttl;
// a zero ttl keeps them for the life of the process.
type SecretsClient struct {
	api SecretValueGetter
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSecret
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return NewSecretsClientWithAPI(secretsmanager.NewFromConfig(cfg), 0)
}

func NewSecretsClientWithAPI(api SecretValueGetter, ttl time.Duration) *SecretsClient {
	return &SecretsClient{api: api, ttl: ttl, now: time.Now, cache: map[string]cachedSecret{}}
}

func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	hit, ok := s.cache[name]
	s.mu.Unlock()
	if ok && (s.ttl == 0 || s.now().Sub(hit.fetched) < s.ttl) {
		return hit.value, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case len(out.SecretBinary) > 0:
		value = string(out.SecretBinary)
	default:
		return "", fmt.Errorf("secret %s is empty", name)
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, fetched: s.now()}
	s.mu.Unlock()
	return value, nil
}

// GetSecretJSON reads a secret holding a flat JSON object. Non-string
// scalars are returned in their JSON form, so {"PORT": 8080} yields "8080".
func (s *SecretsClient) GetSecretJSON(ctx context.Context, name string) (map[string]string, error) {
	raw, err := s.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	values := make(map[string]string, len(fields))
	for k, v := range fields {
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			values[k] = str
			continue
		}
		values[k] = strings.TrimSpace(string(v))
	}
	return values, nil
}
