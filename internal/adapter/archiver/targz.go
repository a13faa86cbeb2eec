package archiver

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/mongostash/internal/domain"
)

const (
	// RootEntry is the top-level directory inside every archive.
	RootEntry = "dump"

	filenameLayout = "2006-01-02_150405"
)

type TarGz struct {
	now   func() time.Time
	level int
}

func NewTarGz() *TarGz {
	return &TarGz{now: time.Now, level: gzip.BestCompression}
}

// Filename returns the archive name for the given instant, always in UTC.
func Filename(t time.Time) string {
	return fmt.Sprintf("backup-%s.tgz", t.UTC().Format(filenameLayout))
}

// Build packs stagingRoot into outDir/backup-<UTC timestamp>.tgz. The archive
// is written to a temporary file and renamed into place, so either the
// complete archive exists or nothing does.
func (a *TarGz) Build(stagingRoot, outDir string) (*domain.Archive, error) {
	info, err := os.Stat(stagingRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat staging directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("staging path %s is not a directory", stagingRoot)
	}

	if inside, err := within(outDir, stagingRoot); err != nil {
		return nil, err
	} else if inside {
		return nil, fmt.Errorf("archive directory %s is inside staging directory %s", outDir, stagingRoot)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	createdAt := a.now().UTC()
	name := Filename(createdAt)
	finalPath := filepath.Join(outDir, name)

	tmp, err := os.CreateTemp(outDir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create dest file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := a.write(tmp, stagingRoot); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}
	committed = true

	stat, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	return &domain.Archive{
		Name:      name,
		Path:      finalPath,
		Size:      stat.Size(),
		CreatedAt: createdAt,
	}, nil
}

// within reports whether dir is root or lies below it.
func within(dir, root string) (bool, error) {
	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	rel, err := filepath.Rel(rootAbs, dirAbs)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

func (a *TarGz) write(dest io.Writer, stagingRoot string) error {
	gzipWriter, err := gzip.NewWriterLevel(dest, a.level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tarWriter := tar.NewWriter(gzipWriter)

	walkErr := filepath.WalkDir(stagingRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(stagingRoot, p)
		if err != nil {
			return err
		}
		entryName := RootEntry
		if rel != "." {
			entryName = path.Join(RootEntry, filepath.ToSlash(rel))
		}

		return addEntry(tarWriter, p, entryName, d)
	})
	if walkErr != nil {
		return fmt.Errorf("failed to archive staging directory: %w", walkErr)
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}
	return nil
}

func addEntry(tw *tar.Writer, src, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		// Sockets, symlinks and the like never appear in a dump.
		return nil
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
