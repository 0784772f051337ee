// Package secrets resolves secret:// configuration references against Google Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	referenceScheme = "secret://"
	latestVersion   = "latest"
)

// ErrSecretNotFound is returned when neither Secret Manager nor the fallback file has the secret.
var ErrSecretNotFound = errors.New("secrets: secret not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver looks up secret://[project/]name[@version] references. Values are cached for the process
// lifetime. In the local environment, a KEY=VALUE fallback file answers when Secret Manager cannot.
type Resolver struct {
	client         accessClient
	defaultProject string
	fallbackPath   string
	allowFallback  bool
	logger         *zap.Logger

	mu    sync.Mutex
	cache map[string]string

	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error
}

type Options struct {
	DefaultProject string
	FallbackFile   string
	Environment    string
	Logger         *zap.Logger
	ClientOptions  []option.ClientOption
}

// NewResolver dials Secret Manager. Outside the local environment a dial failure is fatal.
func NewResolver(ctx context.Context, opts Options) (*Resolver, error) {
	local := opts.Environment == "" || strings.EqualFold(opts.Environment, "local")
	client, err := secretmanager.NewClient(ctx, opts.ClientOptions...)
	if err != nil && !local {
		return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
	}
	r := newResolver(nil, opts, local)
	if err == nil {
		r.client = client
	} else {
		r.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
	}
	return r, nil
}

func newResolver(client accessClient, opts Options, allowFallback bool) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:         client,
		defaultProject: strings.TrimSpace(opts.DefaultProject),
		fallbackPath:   strings.TrimSpace(opts.FallbackFile),
		allowFallback:  allowFallback,
		logger:         logger,
		cache:          make(map[string]string),
	}
}

// ResolveSecret returns the secret value for ref.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	project, name, version, err := r.parse(ref)
	if err != nil {
		return "", err
	}
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)

	r.mu.Lock()
	if value, ok := r.cache[resource]; ok {
		r.mu.Unlock()
		return value, nil
	}
	r.mu.Unlock()

	value, remoteErr := r.access(ctx, resource)
	if remoteErr != nil {
		if !r.allowFallback {
			return "", remoteErr
		}
		fallback, ok := r.lookupFallback(ref)
		if !ok {
			return "", errors.Join(remoteErr, fmt.Errorf("%w: %s", ErrSecretNotFound, ref))
		}
		r.logger.Debug("secret resolved from fallback file", zap.String("secret", name))
		value = fallback
	}

	r.mu.Lock()
	r.cache[resource] = value
	r.mu.Unlock()
	return value, nil
}

func (r *Resolver) access(ctx context.Context, resource string) (string, error) {
	if r.client == nil {
		return "", errors.New("secrets: secret manager client not configured")
	}
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, resource)
		}
		return "", fmt.Errorf("secrets: access %s: %w", resource, err)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) parse(ref string) (project, name, version string, err error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, referenceScheme) {
		return "", "", "", fmt.Errorf("secrets: unsupported reference %q", ref)
	}
	path := strings.TrimPrefix(trimmed, referenceScheme)
	path, version, _ = strings.Cut(path, "@")
	if version = strings.TrimSpace(version); version == "" {
		version = latestVersion
	}
	project = r.defaultProject
	if p, n, ok := strings.Cut(path, "/"); ok {
		project, name = strings.TrimSpace(p), strings.TrimSpace(n)
	} else {
		name = strings.TrimSpace(path)
	}
	if name == "" || strings.Contains(name, "/") {
		return "", "", "", fmt.Errorf("secrets: invalid secret name in %q", ref)
	}
	if project == "" {
		return "", "", "", fmt.Errorf("secrets: no project for %q", ref)
	}
	return project, name, version, nil
}

func (r *Resolver) lookupFallback(ref string) (string, bool) {
	r.fallbackOnce.Do(func() {
		r.fallback, r.fallbackErr = readFallbackFile(r.fallbackPath)
	})
	if r.fallbackErr != nil {
		r.logger.Warn("secrets fallback file unreadable", zap.Error(r.fallbackErr))
		return "", false
	}
	value, ok := r.fallback[strings.TrimSpace(ref)]
	return value, ok
}

func readFallbackFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values, scanner.Err()
}

// Close releases the Secret Manager connection.
func (r *Resolver) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
