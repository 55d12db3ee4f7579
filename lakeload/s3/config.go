package s3

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/justapithecus/lakeload/lakeload"
)

// Schemes served by this backend.
var Schemes = []string{"s3", "s3a"}

// ClientConfig holds configuration for creating an S3 client.
type ClientConfig struct {
	// Region is the AWS region (required).
	Region string

	// Endpoint is an optional custom endpoint URL.
	// Used for S3-compatible services (MinIO, LocalStack, R2).
	// Example: "http://localhost:4566" for LocalStack.
	Endpoint string

	// UsePathStyle enables path-style addressing instead of virtual-hosted style.
	// Required for some S3-compatible services (e.g., LocalStack, MinIO with default config).
	UsePathStyle bool

	// Credentials are the AWS credentials to use.
	// If nil, uses the default credential chain.
	Credentials aws.CredentialsProvider
}

// NewClient creates a new S3 client with the given configuration.
//
// For LocalStack:
//
//	client, err := s3.NewClient(ctx, s3.ClientConfig{
//	    Region:       "us-east-1",
//	    Endpoint:     "http://localhost:4566",
//	    UsePathStyle: true,
//	    Credentials:  credentials.NewStaticCredentialsProvider("test", "test", ""),
//	})
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, errors.New("s3: region is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.Credentials != nil {
		opts = append(opts, config.WithCredentialsProvider(cfg.Credentials))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Opts := []func(*s3.Options){}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// ClientConfigFor derives the client configuration from a binding. The
// binding's credentials are used as-is; the ambient chain is not consulted.
//
// Returns lakeload.ErrMissingCredentials if the access key id or secret is
// absent.
func ClientConfigFor(b lakeload.Binding) (ClientConfig, error) {
	keyID, secret := b.Credentials.AccessKeyID(), b.Credentials.SecretAccessKey()
	if keyID == "" || secret == "" {
		return ClientConfig{}, lakeload.ErrMissingCredentials
	}
	token, _ := b.Credentials.SessionToken()

	return ClientConfig{
		Region:       b.Region,
		Endpoint:     b.Endpoint,
		UsePathStyle: b.UsePathStyle,
		Credentials:  credentials.NewStaticCredentialsProvider(keyID, secret, token),
	}, nil
}

// Backend builds a store for a binding: an S3 client bound to the binding's
// bucket, region and credentials. Keys are relative to the bucket root.
func Backend(ctx context.Context, b lakeload.Binding) (lakeload.Store, error) {
	if b.Location.Bucket == "" {
		return nil, lakeload.ErrInvalidURI
	}
	cfg, err := ClientConfigFor(b)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(client, Config{Bucket: b.Location.Bucket})
}

var registerMu sync.Mutex

// RegisterHandlers registers Backend for the s3 and s3a schemes. It is safe
// to call any number of times; a scheme that already has a factory keeps it.
func RegisterHandlers(r *lakeload.Registry) {
	registerMu.Lock()
	defer registerMu.Unlock()
	for _, scheme := range Schemes {
		if _, ok := r.Lookup(scheme); ok {
			continue
		}
		r.Register(Backend, scheme)
	}
}
