package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ledongthuc/pdf"
)

const defaultMaxPDFBytes = 10 << 20 // 10MB

// HTTPPDFInspector downloads a PDF and counts its pages.
type HTTPPDFInspector struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPPDFInspector() *HTTPPDFInspector {
	return &HTTPPDFInspector{
		client:   &http.Client{Timeout: 15 * time.Second},
		maxBytes: defaultMaxPDFBytes,
	}
}

func (p *HTTPPDFInspector) PageCount(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading pdf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("reading pdf: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return 0, fmt.Errorf("pdf larger than %d bytes", p.maxBytes)
	}
	return countPages(data)
}

func countPages(data []byte) (n int, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pdf: %w", err)
	}
	return r.NumPage(), nil
}
