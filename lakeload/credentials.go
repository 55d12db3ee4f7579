package lakeload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
)

// Credential map keys. These match the AWS environment variable names so the
// map can be handed to anything that accepts AWS storage options.
const (
	AccessKeyIDKey     = "AWS_ACCESS_KEY_ID"
	SecretAccessKeyKey = "AWS_SECRET_ACCESS_KEY"
	SessionTokenKey    = "AWS_SESSION_TOKEN"
)

// Resolver defaults.
const (
	// DefaultMaxAttempts bounds provider retries within one resolution.
	DefaultMaxAttempts = 5

	// DefaultResolveTimeout caps a whole resolution, retries included.
	DefaultResolveTimeout = 30 * time.Second
)

// CredentialMap holds resolved credentials keyed by AccessKeyIDKey,
// SecretAccessKeyKey, and (for temporary credentials) SessionTokenKey.
//
// A map returned by CredentialResolver.Resolve is owned by the caller.
type CredentialMap map[string]string

// AccessKeyID returns the access key id, or "" if absent.
func (c CredentialMap) AccessKeyID() string { return c[AccessKeyIDKey] }

// SecretAccessKey returns the secret access key, or "" if absent.
func (c CredentialMap) SecretAccessKey() string { return c[SecretAccessKeyKey] }

// SessionToken returns the session token and whether one is present.
func (c CredentialMap) SessionToken() (string, bool) {
	tok, ok := c[SessionTokenKey]
	return tok, ok
}

// String lists the keys present with every value redacted.
func (c CredentialMap) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k+"=***")
	}
	sort.Strings(keys)
	return "CredentialMap{" + strings.Join(keys, ", ") + "}"
}

// ResolverConfig configures a CredentialResolver. The zero value resolves
// through the default chain with DefaultMaxAttempts and DefaultResolveTimeout.
type ResolverConfig struct {
	// Region is passed to the chain when set. Needed for assume-role.
	Region string

	// Profile selects a shared config profile instead of the default.
	Profile string

	// RoleARN, when set, assumes this role using the chain's credentials.
	RoleARN string

	// RoleSessionName names the assumed-role session. Optional.
	RoleSessionName string

	// MaxAttempts bounds retries on transient provider failures.
	MaxAttempts int

	// Timeout caps the whole resolution.
	Timeout time.Duration
}

// ConfigLoader loads an AWS configuration. config.LoadDefaultConfig
// satisfies it.
type ConfigLoader func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error)

// ResolverOption configures a CredentialResolver.
type ResolverOption func(*CredentialResolver)

// WithConfigLoader replaces the AWS config loader.
func WithConfigLoader(load ConfigLoader) ResolverOption {
	return func(r *CredentialResolver) {
		r.load = load
	}
}

// WithSTSClient replaces how the assume-role client is built from the base
// configuration.
func WithSTSClient(fn func(aws.Config) stscreds.AssumeRoleAPIClient) ResolverOption {
	return func(r *CredentialResolver) {
		r.newSTS = fn
	}
}

// WithResolverLogger sets the logger for resolution notices.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *CredentialResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// CredentialResolver discovers ambient AWS credentials through the SDK's
// default provider chain (environment, shared profiles, container and
// instance metadata, web identity) and flattens them into a CredentialMap.
//
// Each Resolve call builds a fresh chain; nothing is cached between calls.
type CredentialResolver struct {
	cfg    ResolverConfig
	load   ConfigLoader
	newSTS func(aws.Config) stscreds.AssumeRoleAPIClient
	logger *zap.Logger
}

// NewCredentialResolver creates a resolver with the given configuration.
func NewCredentialResolver(cfg ResolverConfig, opts ...ResolverOption) *CredentialResolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResolveTimeout
	}
	r := &CredentialResolver{
		cfg:  cfg,
		load: config.LoadDefaultConfig,
		newSTS: func(c aws.Config) stscreds.AssumeRoleAPIClient {
			return sts.NewFromConfig(c)
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve performs one credential resolution against the provider chain.
//
// Returns ErrProviderUnavailable only when the config loader yields a nil or
// anonymous provider. The SDK's default loader always installs its chain, so
// an environment with no credentials surfaces as ErrProviderFailed from
// Retrieve. ErrProviderFailed wraps the provider's error whenever credentials
// cannot be produced within the retry and timeout budget.
func (r *CredentialResolver) Resolve(ctx context.Context) (CredentialMap, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	maxAttempts := r.cfg.MaxAttempts
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}),
	}
	if r.cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(r.cfg.Region))
	}
	if r.cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(r.cfg.Profile))
	}

	awsCfg, err := r.load(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %w", ErrProviderFailed, err)
	}

	provider := awsCfg.Credentials
	if provider == nil || aws.IsCredentialsProvider(provider, aws.AnonymousCredentials{}) {
		return nil, ErrProviderUnavailable
	}

	if r.cfg.RoleARN != "" {
		provider = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(
			r.newSTS(awsCfg), r.cfg.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				if r.cfg.RoleSessionName != "" {
					o.RoleSessionName = r.cfg.RoleSessionName
				}
			},
		))
	}

	creds, err := provider.Retrieve(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s: %w", ErrProviderFailed, r.cfg.Timeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("%w: provider %q returned empty credentials", ErrProviderFailed, creds.Source)
	}

	out := CredentialMap{
		AccessKeyIDKey:     creds.AccessKeyID,
		SecretAccessKeyKey: creds.SecretAccessKey,
	}
	if creds.SessionToken != "" {
		out[SessionTokenKey] = creds.SessionToken
	}

	r.logger.Info("aws credentials resolved",
		zap.String("source", creds.Source),
		zap.Bool("session_token", creds.SessionToken != ""),
		zap.Bool("assumed_role", r.cfg.RoleARN != ""),
	)

	return out, nil
}
