package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type (
	// Directory is a one-level listing of a local directory. Subdirectories
	// are listed on demand so a walker descends exactly one level per call.
	Directory interface {
		GetName() string
		GetAbsolutePath() string
		GetFiles() []*File
		GetSubDirectories(ctx context.Context) ([]Directory, error)
		GetAllFiles(ctx context.Context) ([]*File, error)
		RepopulateFiles(ctx context.Context) error
	}

	directory struct {
		Name     string
		Absolute string
		Files    []*File
		SubDirs  []string
	}
)

var _ Directory = &directory{}

func NewDirectory(ctx context.Context, absolute string) (Directory, error) {
	info, err := os.Stat(absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrap(pkgerrors.LocalFileMissingError, absolute)
		}
		return nil, eris.Wrapf(err, "failed to stat %s", absolute)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("%s is not a directory", absolute)
	}

	d := &directory{
		Absolute: absolute,
		Name:     filepath.Base(absolute),
	}
	err = d.RepopulateFiles(ctx)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *directory) GetName() string {
	return d.Name
}

func (d *directory) GetAbsolutePath() string {
	return d.Absolute
}

// GetFiles returns the regular files directly inside the directory, sorted
// by name.
func (d *directory) GetFiles() []*File {
	return d.Files
}

func (d *directory) GetSubDirectories(ctx context.Context) ([]Directory, error) {
	subDirs := make([]Directory, 0, len(d.SubDirs))
	for _, name := range d.SubDirs {
		sub, err := NewDirectory(ctx, filepath.Join(d.Absolute, name))
		if err != nil {
			return nil, err
		}
		subDirs = append(subDirs, sub)
	}
	return subDirs, nil
}

// GetAllFiles returns every file in the tree in upload order: the files of a
// directory first, then each subdirectory in name order.
func (d *directory) GetAllFiles(ctx context.Context) ([]*File, error) {
	files := make([]*File, 0, len(d.Files))
	files = append(files, d.Files...)
	subDirs, err := d.GetSubDirectories(ctx)
	if err != nil {
		return nil, err
	}
	for _, sub := range subDirs {
		subFiles, err := sub.GetAllFiles(ctx)
		if err != nil {
			return nil, err
		}
		files = append(files, subFiles...)
	}
	return files, nil
}

func (d *directory) RepopulateFiles(ctx context.Context) error {
	entries, err := os.ReadDir(d.Absolute)
	if err != nil {
		return eris.Wrapf(err, "failed to repopulate files for directory %s", d.Name)
	}

	files := make([]*File, 0)
	subDirs := make([]string, 0)
	for _, entry := range entries {
		switch {
		case entry.IsDir():
			log.FromCtx(ctx).Sugar().Debugf("Found sub-directory %s", entry.Name())
			subDirs = append(subDirs, entry.Name())
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				return eris.Wrapf(err, "failed to stat %s", entry.Name())
			}
			files = append(files, NewFile(
				filepath.Join(d.Absolute, entry.Name()),
				info.Size(),
				info.ModTime(),
			))
		case entry.Type()&os.ModeSymlink != 0:
			full := filepath.Join(d.Absolute, entry.Name())
			info, err := os.Stat(full)
			switch {
			case err != nil:
				log.FromCtx(ctx).Warn("Skipping broken symlink", zap.String("path", full), zap.Error(err))
			case info.IsDir():
				if d.isAncestor(full) {
					log.FromCtx(ctx).Warn("Skipping symlink to an enclosing directory", zap.String("path", full))
					continue
				}
				subDirs = append(subDirs, entry.Name())
			case info.Mode().IsRegular():
				files = append(files, NewFile(full, info.Size(), info.ModTime()))
			default:
				log.FromCtx(ctx).Warn("Skipping symlink to a non-regular file", zap.String("path", full))
			}
		default:
			log.FromCtx(ctx).Warn("Skipping non-regular file",
				zap.String("directory", d.Absolute),
				zap.String("name", entry.Name()),
				zap.String("mode", entry.Type().String()))
		}
	}
	d.Files = files
	d.SubDirs = subDirs

	return nil
}

// isAncestor reports whether the link at p resolves to d or a directory
// enclosing it, which would make the walk loop.
func (d *directory) isAncestor(p string) bool {
	target, err := filepath.EvalSymlinks(p)
	if err != nil {
		return true
	}
	self, err := filepath.EvalSymlinks(d.Absolute)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(target, self)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
