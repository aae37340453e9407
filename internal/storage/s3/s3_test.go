package s3

import (
	"errors"
	"testing"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
)

// Constructor validation only: everything past client construction needs a
// live endpoint and is covered by the shared mock-backed service tests.

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.S3ProviderConfig
	}{
		{"missing bucket", config.S3ProviderConfig{Region: "us-east-1"}},
		{"missing region", config.S3ProviderConfig{Bucket: "b"}},
		{"static without keys", config.S3ProviderConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "static"}},
		{"unknown auth method", config.S3ProviderConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "oauth"}},
		{"assume role without arn", config.S3ProviderConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "assume_role"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&tt.cfg, nil)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNew_StaticCredentials(t *testing.T) {
	p, err := New(&config.S3ProviderConfig{
		Bucket:          "mirror",
		Region:          "us-east-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		BasePath:        "vault",
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if p.Name() != "s3" {
		t.Errorf("Name() = %q, want s3", p.Name())
	}
	if got := p.key("versions/a/b"); got != "vault/versions/a/b" {
		t.Errorf("key() = %q, want vault/versions/a/b", got)
	}
}

func TestKey_NoBasePath(t *testing.T) {
	p := &Provider{bucket: "b"}
	if got := p.key("x/y"); got != "x/y" {
		t.Errorf("key() = %q, want x/y", got)
	}
}
