package tunnel

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// helperBinaryName is the platform-specific filename the helper is
// installed under.
func helperBinaryName() string {
	if runtime.GOOS == "windows" {
		return "relay-tunnel.exe"
	}
	return "relay-tunnel"
}

// DefaultLocator finds the helper binary in, in order, the bundled
// application resources directory, the user-data bin folder, and the
// system PATH; if none has it, it downloads the platform release into
// userDataDir.
type DefaultLocator struct {
	BundledResourcesDir string
	UserDataDir         string
	ReleaseURLTemplate  string // e.g. "https://dl.example.com/relay-tunnel/%s/%s" (goos, archive name)
	HTTPClient          *http.Client
}

// Locate implements HelperLocator.
func (l *DefaultLocator) Locate(ctx context.Context) (string, error) {
	name := helperBinaryName()

	if l.BundledResourcesDir != "" {
		candidate := filepath.Join(l.BundledResourcesDir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	userBinDir := filepath.Join(l.UserDataDir, "bin")
	userCandidate := filepath.Join(userBinDir, name)
	if isExecutable(userCandidate) {
		return userCandidate, nil
	}

	if path, err := exec.LookPath(strippedExt(name)); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(userBinDir, 0o755); err != nil {
		return "", fmt.Errorf("tunnel: create user bin dir: %w", err)
	}
	if err := l.download(ctx, userCandidate); err != nil {
		return "", fmt.Errorf("tunnel: download helper binary: %w", err)
	}
	if err := os.Chmod(userCandidate, 0o755); err != nil {
		return "", fmt.Errorf("tunnel: make helper binary executable: %w", err)
	}
	return userCandidate, nil
}

func strippedExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0 || runtime.GOOS == "windows"
}

// download fetches the platform-appropriate release artifact and writes
// the extracted (or raw, on Linux) binary to dest: a tar.gz on macOS, an
// .exe on Windows, a raw binary on Linux.
func (l *DefaultLocator) download(ctx context.Context, dest string) error {
	archiveName := releaseArchiveName()
	url := fmt.Sprintf(l.ReleaseURLTemplate, runtime.GOOS, archiveName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tunnel: release download returned status %d", resp.StatusCode)
	}

	switch runtime.GOOS {
	case "darwin":
		return extractTarGz(resp.Body, dest)
	default:
		return writeFile(dest, resp.Body)
	}
}

func releaseArchiveName() string {
	switch runtime.GOOS {
	case "darwin":
		return "relay-tunnel-darwin.tar.gz"
	case "windows":
		return "relay-tunnel-windows.exe"
	default:
		return "relay-tunnel-linux"
	}
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// extractTarGz pulls the first regular file out of a gzip-compressed tar
// stream (the release's single helper binary) and writes it to dest.
func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("tunnel: open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("tunnel: release archive contained no regular file")
		}
		if err != nil {
			return fmt.Errorf("tunnel: read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return writeFile(dest, tr)
	}
}
