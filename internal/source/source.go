package source

import (
	"context"
	"io"
	"net/url"
	"strings"

	"tubemux/internal/job"
	"tubemux/internal/services"
)

// Stream is an open byte stream for one encoding. Total is the declared
// length, or <=0 when unknown. Read may fail mid-stream.
type Stream struct {
	io.ReadCloser
	Total int64
}

// Provider resolves references and opens encodings.
type Provider interface {
	Resolve(ctx context.Context, sourceRef string) (*job.SourceInfo, error)
	Open(ctx context.Context, sourceRef string, encoding job.Encoding) (*Stream, error)
}

// ValidateRef rejects references that are not absolute http(s) URLs.
func ValidateRef(sourceRef string) error {
	trimmed := strings.TrimSpace(sourceRef)
	if trimmed == "" {
		return services.Wrap(services.ErrInvalidSource, "source", "validate", "source reference is empty", nil)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return services.Wrap(services.ErrInvalidSource, "source", "validate", "malformed source reference", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return services.Wrap(services.ErrInvalidSource, "source", "validate", "source reference must be an http(s) URL", nil)
	}
	if parsed.Host == "" {
		return services.Wrap(services.ErrInvalidSource, "source", "validate", "source reference has no host", nil)
	}
	return nil
}
