package storage

import (
	"context"
	"os"
	"path"
	"strings"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type (
	// Storage is one session against a remote file host. Relative paths are
	// resolved against the session's working directory.
	Storage interface {
		Connect(ctx context.Context) error
		ChangeDir(ctx context.Context, dir string) error
		MakeDir(ctx context.Context, dir string) error
		// Stat returns RemoteNotFoundError when nothing exists at p.
		Stat(ctx context.Context, p string) (*RemoteEntry, error)
		// Store writes the full contents of file to name, replacing any
		// existing remote file.
		Store(ctx context.Context, name string, file *fs.File) error
		Close() error
	}

	RemoteEntry struct {
		Name  string
		Path  string
		IsDir bool
		Size  int64
	}
)

// EnsureDir creates dir unless it already exists as a directory. An existing
// non-directory entry is an error.
func EnsureDir(ctx context.Context, s Storage, dir string) error {
	entry, err := s.Stat(ctx, dir)
	switch {
	case err == nil && entry.IsDir:
		log.FromCtx(ctx).Debug("Remote directory exists", zap.String("remote", dir))
		return nil
	case err == nil:
		return eris.Wrap(pkgerrors.NotADirectoryError, dir)
	case !eris.Is(err, pkgerrors.RemoteNotFoundError):
		return eris.Wrapf(err, "failed to stat remote directory %s", dir)
	}

	err = s.MakeDir(ctx, dir)
	if err != nil {
		return eris.Wrapf(err, "failed to create remote directory %s", dir)
	}
	log.FromCtx(ctx).Info("Created remote directory", zap.String("remote", dir))
	return nil
}

// EnsureDirAll runs EnsureDir on dir and each of its ancestors, outermost
// first.
func EnsureDirAll(ctx context.Context, s Storage, dir string) error {
	for _, p := range ancestors(dir) {
		err := EnsureDir(ctx, s, p)
		if err != nil {
			return err
		}
	}
	return nil
}

// ancestors lists the cumulative prefixes of p, e.g. "/a/b" yields "/a",
// "/a/b". The root itself and "." are omitted.
func ancestors(p string) []string {
	p = path.Clean(p)
	if p == "/" || p == "." {
		return nil
	}
	absolute := strings.HasPrefix(p, "/")
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	out := make([]string, 0, len(parts))
	cur := ""
	for i, part := range parts {
		if i == 0 {
			cur = part
			if absolute {
				cur = "/" + part
			}
		} else {
			cur = cur + "/" + part
		}
		out = append(out, cur)
	}
	return out
}

// resolve joins p onto cwd unless p is already absolute.
func resolve(cwd, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	if cwd == "" {
		cwd = "/"
	}
	return path.Join(cwd, p)
}

// openLocal opens file for reading. The caller closes it.
func openLocal(file *fs.File) (*os.File, error) {
	f, err := os.Open(file.Absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrap(pkgerrors.LocalFileMissingError, file.Absolute)
		}
		return nil, eris.Wrap(err, "failed to open file")
	}
	return f, nil
}
