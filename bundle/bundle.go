// Package bundle installs the Python analysis backend on first run. The
// backend ships as a single archive (interpreter plus model scripts) that
// is downloaded into the cache directory and unpacked into the data
// directory. Progress is published over the event hub so the setup page
// can show what is happening.
package bundle

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// InstallStatus is the phase of a bundle installation.
type InstallStatus string

const (
	StatusDownloading InstallStatus = "downloading"
	StatusExtracting  InstallStatus = "extracting"
	StatusComplete    InstallStatus = "complete"
	StatusError       InstallStatus = "error"
)

// Progress is one setup-progress update.
type Progress struct {
	Status          InstallStatus `json:"status"`
	Message         string        `json:"message"`
	BytesDownloaded int64         `json:"bytes_downloaded,omitempty"`
	TotalBytes      int64         `json:"total_bytes,omitempty"`
	Percent         float64       `json:"percent,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Publisher pushes progress updates to connected clients. Satisfied by
// events.Hub.
type Publisher interface {
	PublishJSON(eventType string, data interface{})
}

// markerFile records a completed install inside the destination directory.
const markerFile = ".bundle-installed"

// Installer downloads and unpacks the backend bundle.
type Installer struct {
	url      string
	cacheDir string
	destDir  string
	pub      Publisher

	retryAttempts int
	retryDelay    time.Duration
}

func NewInstaller(url, cacheDir, destDir string, pub Publisher) *Installer {
	return &Installer{
		url:           url,
		cacheDir:      cacheDir,
		destDir:       destDir,
		pub:           pub,
		retryAttempts: 3,
		retryDelay:    5 * time.Second,
	}
}

// Installed reports whether a previous install completed.
func (i *Installer) Installed() bool {
	_, err := os.Stat(filepath.Join(i.destDir, markerFile))
	return err == nil
}

// EnsureInstalled downloads and unpacks the bundle unless a completed
// install is already present. It is safe to call on every startup.
func (i *Installer) EnsureInstalled(ctx context.Context) error {
	if i.Installed() {
		return nil
	}
	if i.url == "" {
		return fmt.Errorf("no bundle URL configured")
	}

	if err := os.MkdirAll(i.cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	if err := os.MkdirAll(i.destDir, 0755); err != nil {
		return fmt.Errorf("creating dest dir: %w", err)
	}

	archivePath := filepath.Join(i.cacheDir, filepath.Base(i.url))

	log.Printf("Downloading backend bundle from %s", i.url)
	if err := i.download(ctx, archivePath); err != nil {
		i.publish(Progress{Status: StatusError, Message: "Download failed", Error: err.Error()})
		return err
	}

	i.publish(Progress{Status: StatusExtracting, Message: "Unpacking backend..."})
	if err := i.extractArchive(archivePath, i.destDir); err != nil {
		i.publish(Progress{Status: StatusError, Message: "Extraction failed", Error: err.Error()})
		return err
	}

	if err := os.WriteFile(filepath.Join(i.destDir, markerFile), []byte(time.Now().UTC().Format(time.RFC3339)), 0644); err != nil {
		return fmt.Errorf("writing install marker: %w", err)
	}

	// The archive is no longer needed once unpacked.
	if err := os.Remove(archivePath); err != nil {
		log.Printf("Could not remove bundle archive %s: %v", archivePath, err)
	}

	i.publish(Progress{Status: StatusComplete, Message: "Backend installed"})
	log.Printf("Backend bundle installed into %s", i.destDir)
	return nil
}

func (i *Installer) publish(p Progress) {
	if i.pub != nil {
		i.pub.PublishJSON("setup-progress", p)
	}
}
