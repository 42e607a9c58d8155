// Package ribosome synthesizes a cell's executable from its source tree,
// caching the result so a node restart doesn't force a full rebuild of
// every cell whose source hasn't changed since it last ran.
package ribosome

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"lukechampine.com/blake3"

	"cell/internal/logging"
)

// Ribosome synthesizes cell binaries into a shared bin directory, keyed
// by cell name, skipping the build when a cached binary's content hash
// still matches its source tree.
type Ribosome struct {
	binaryDir string
	metaDir   string
	log       *slog.Logger
}

// New returns a Ribosome that installs binaries into binaryDir and keeps
// its own build metadata (hash files, lock files, scratch build output)
// under metaDir, a directory binaries are never run from.
func New(binaryDir, metaDir string) *Ribosome {
	return &Ribosome{
		binaryDir: binaryDir,
		metaDir:   metaDir,
		log:       logging.Component("ribosome"),
	}
}

// Synthesize builds cellName's binary from sourceDir if no cached binary
// matches the source tree's current content hash, and returns the
// installed binary's path. The path is always binaryDir/cellName, the
// convention the Supervisor looks binaries up by.
func (r *Ribosome) Synthesize(ctx context.Context, sourceDir, cellName string) (string, error) {
	if strings.ContainsAny(cellName, "/\\.") || cellName == "" {
		return "", fmt.Errorf("ribosome: invalid cell name %q", cellName)
	}

	cellMetaDir := filepath.Join(r.metaDir, cellName)
	if err := os.MkdirAll(r.binaryDir, 0o755); err != nil {
		return "", fmt.Errorf("ribosome: create bin dir: %w", err)
	}
	if err := os.MkdirAll(cellMetaDir, 0o755); err != nil {
		return "", fmt.Errorf("ribosome: create meta dir: %w", err)
	}

	lock := flock.New(filepath.Join(cellMetaDir, "ribosome.lock"))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("ribosome: acquire build lock for %s: %w", cellName, err)
	}
	defer lock.Unlock()

	actualSource, err := filepath.EvalSymlinks(sourceDir)
	if err != nil {
		return "", fmt.Errorf("ribosome: resolve source path: %w", err)
	}

	currentHash, err := computeDNAHash(actualSource)
	if err != nil {
		return "", fmt.Errorf("ribosome: hash source: %w", err)
	}

	binaryPath := filepath.Join(r.binaryDir, cellName)
	hashFilePath := filepath.Join(cellMetaDir, "dna.hash")

	if cached, err := os.ReadFile(hashFilePath); err == nil {
		if strings.TrimSpace(string(cached)) == currentHash {
			if _, err := os.Stat(binaryPath); err == nil {
				return binaryPath, nil
			}
		}
	}

	r.log.Info("synthesizing cell", "cell", cellName, "source", actualSource)

	tmpOut := filepath.Join(cellMetaDir, cellName+".build")
	cmd := exec.CommandContext(ctx, "go", "build", "-trimpath", "-o", tmpOut, ".")
	cmd.Dir = actualSource
	cmd.Env = sanitizedBuildEnv()
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ribosome: compile %s: %w", cellName, err)
	}
	if _, err := os.Stat(tmpOut); err != nil {
		return "", fmt.Errorf("ribosome: compiler finished but binary missing at %s", tmpOut)
	}

	if err := installBinary(tmpOut, binaryPath); err != nil {
		return "", fmt.Errorf("ribosome: install %s: %w", cellName, err)
	}
	if err := os.WriteFile(hashFilePath, []byte(currentHash), 0o644); err != nil {
		return "", fmt.Errorf("ribosome: record build hash: %w", err)
	}

	return binaryPath, nil
}

// sanitizedBuildEnv strips CGO so cell binaries stay static, and keeps
// the rest of the ambient environment (PATH, GOPATH/GOCACHE overrides)
// so the host toolchain's module cache is reused across builds.
func sanitizedBuildEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, "CGO_ENABLED=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "CGO_ENABLED=0")
}

func installBinary(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// computeDNAHash hashes the cell source tree's content, the lockfile,
// and the toolchain version in one pass, so either a code change or a
// dependency/toolchain change invalidates the cache.
func computeDNAHash(sourceDir string) (string, error) {
	hasher := blake3.New(32, nil)
	hasher.Write([]byte(runtime.Version()))

	if content, err := os.ReadFile(filepath.Join(sourceDir, "go.sum")); err == nil {
		hasher.Write(content)
	}

	var files []string
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == "bin" || name == "target" || (strings.HasPrefix(name, ".") && path != sourceDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || name == "go.sum" {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(hasher, bufio.NewReader(f)); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
