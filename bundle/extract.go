package bundle

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"

	"github.com/promptwtf/genprompt/platform"
)

// extractArchive unpacks the bundle based on its file extension.
func (i *Installer) extractArchive(archivePath, destDir string) error {
	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".7z"):
		return i.extract7z(archivePath, destDir)
	case strings.HasSuffix(name, ".zip"):
		return i.extractZip(archivePath, destDir)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return i.extractTarGz(archivePath, destDir)
	default:
		return fmt.Errorf("unsupported bundle format: %s", filepath.Ext(archivePath))
	}
}

// safeJoin joins an archive entry name onto destDir and rejects entries
// that would escape it.
func safeJoin(destDir, name string) (string, error) {
	destPath := filepath.Join(destDir, name)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return destPath, nil
}

func (i *Installer) extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip bundle: %w", err)
	}
	defer reader.Close()

	for idx, file := range reader.File {
		if idx%25 == 0 {
			i.publish(Progress{
				Status:  StatusExtracting,
				Message: fmt.Sprintf("Unpacking %d/%d files...", idx+1, len(reader.File)),
			})
		}
		if file.FileInfo().IsDir() {
			continue
		}

		destPath, err := safeJoin(destDir, file.Name)
		if err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("opening %s in bundle: %w", file.Name, err)
		}
		err = writeEntry(destPath, rc, file.Mode())
		rc.Close()
		if err != nil {
			return fmt.Errorf("extracting %s: %w", file.Name, err)
		}
	}

	return nil
}

func (i *Installer) extract7z(archivePath, destDir string) error {
	reader, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening 7z bundle: %w", err)
	}
	defer reader.Close()

	for idx, file := range reader.File {
		if idx%25 == 0 {
			i.publish(Progress{
				Status:  StatusExtracting,
				Message: fmt.Sprintf("Unpacking %d/%d files...", idx+1, len(reader.File)),
			})
		}
		if file.FileInfo().IsDir() {
			continue
		}

		destPath, err := safeJoin(destDir, file.Name)
		if err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("opening %s in bundle: %w", file.Name, err)
		}
		err = writeEntry(destPath, rc, file.Mode())
		rc.Close()
		if err != nil {
			return fmt.Errorf("extracting %s: %w", file.Name, err)
		}
	}

	return nil
}

func (i *Installer) extractTarGz(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		destPath, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeEntry(destPath, tarReader, fs.FileMode(header.Mode)); err != nil {
				return fmt.Errorf("extracting %s: %w", header.Name, err)
			}
		}
	}

	return nil
}

// writeEntry writes one archive entry to disk, preserving the executable
// bit so the bundled interpreter stays runnable.
func writeEntry(destPath string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	outFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return err
	}
	if err := outFile.Close(); err != nil {
		return err
	}

	if mode&0111 != 0 {
		if err := platform.EnsureExecutable(destPath); err != nil {
			// Non-fatal, the OS may not support it.
		}
	}
	return nil
}
