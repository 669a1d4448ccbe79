package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tanq16/fetchpool/internal/utils"
)

type HTTPSource struct {
	client utils.HTTPDoer
}

func NewHTTPSource(client utils.HTTPDoer) *HTTPSource {
	if client == nil {
		client = utils.NewFetchHTTPClient(utils.HTTPClientConfig{})
	}
	return &HTTPSource{client: client}
}

// Open issues the GET and hands back the unread body. Non-2xx responses are
// closed without reading.
func (s *HTTPSource) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &utils.NetworkError{URL: rawURL, Err: fmt.Errorf("error creating GET request: %w", err)}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &utils.NetworkError{URL: rawURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &utils.HTTPStatusError{URL: rawURL, Status: resp.StatusCode}
	}
	return resp.Body, nil
}
