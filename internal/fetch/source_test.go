package fetch

import (
	"context"
	"io"
	"strings"
)

type sourceFunc func(ctx context.Context, rawURL string) (string, error)

func (f sourceFunc) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	body, err := f(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(body)), nil
}
