package bundle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const downloadBufferSize = 32 * 1024

// download fetches the bundle with automatic retry. Interrupted transfers
// resume from the partial file via HTTP Range requests.
func (i *Installer) download(ctx context.Context, destPath string) error {
	var lastErr error

	for attempt := 1; attempt <= i.retryAttempts; attempt++ {
		err := i.downloadOnce(ctx, destPath)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}

		if attempt < i.retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(i.retryDelay):
			}
		}
	}

	return fmt.Errorf("bundle download failed after %d attempts: %w", i.retryAttempts, lastErr)
}

func (i *Installer) downloadOnce(ctx context.Context, destPath string) error {
	var existingSize int64
	if stat, err := os.Stat(destPath); err == nil {
		existingSize = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	// No client timeout: the bundle is large and transfer time varies.
	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting bundle: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		existingSize = 0
	case http.StatusPartialContent:
		// Server honored the Range header, keep the partial file.
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	totalSize := resp.ContentLength
	if totalSize > 0 && existingSize > 0 {
		totalSize += existingSize
	}

	var out *os.File
	if existingSize > 0 && resp.StatusCode == http.StatusPartialContent {
		out, err = os.OpenFile(destPath, os.O_APPEND|os.O_WRONLY, 0644)
	} else {
		out, err = os.Create(destPath)
		existingSize = 0
	}
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	defer out.Close()

	downloaded := existingSize
	buffer := make([]byte, downloadBufferSize)
	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := out.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("writing bundle: %w", writeErr)
			}
			downloaded += int64(n)

			if time.Since(lastReport) >= 100*time.Millisecond {
				i.publish(downloadProgress(downloaded, totalSize))
				lastReport = time.Now()
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
	}

	i.publish(downloadProgress(downloaded, totalSize))
	return nil
}

func downloadProgress(downloaded, total int64) Progress {
	p := Progress{
		Status:          StatusDownloading,
		Message:         "Downloading backend...",
		BytesDownloaded: downloaded,
		TotalBytes:      total,
	}
	if total > 0 {
		p.Percent = float64(downloaded) / float64(total) * 100
	}
	return p
}
