package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// progressWriter counts bytes written and reports the completed fraction.
type progressWriter struct {
	written int64
	total   int64
	report  func(float64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 && w.report != nil {
		w.report(float64(w.written) / float64(w.total))
	}
	return len(p), nil
}

// transfer downloads url to dest, reporting the fraction received when the
// server announces a length.
func (m *Manager) transfer(ctx context.Context, url, dest string, report func(float64)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	counter := &progressWriter{total: resp.ContentLength, report: report}
	n, err := io.Copy(out, io.TeeReader(resp.Body, counter))
	if err != nil {
		return 0, fmt.Errorf("failed to save file: %w", err)
	}
	if n == 0 {
		return 0, ErrEmptyFile
	}
	return n, nil
}
