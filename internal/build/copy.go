package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/imgforge/internal/recipe"
)

// Decides whether a context-relative path is left out of a copy.
type excluder interface {
	Match(rel string) bool
	Negates() bool
}

// Copies a single context file into a container directory, keeping its
// base name.
func copyFile(ctx context.Context, ctr Container, root, src, destDir string) error {
	hostPath := filepath.Join(root, src)

	slog.Debug("copy", "src", hostPath, "dest", destDir)

	return streamTar(ctx, ctr, destDir, func(tw *tar.Writer) error {
		return writeFileToTar(tw, hostPath, filepath.Base(hostPath))
	})
}

// Copies a context path into a container directory.
//
// A directory source has its contents (not the directory itself) placed
// in destDir. Paths excluded by ex are skipped; ex matches paths relative
// to root, not to src.
func copyTree(ctx context.Context, ctr Container, root, src, destDir string, ex excluder) error {
	hostPath := filepath.Join(root, src)

	info, err := os.Stat(hostPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	slog.Debug("copy", "src", hostPath, "dest", destDir, "dir", info.IsDir())

	return streamTar(ctx, ctr, destDir, func(tw *tar.Writer) error {
		if !info.IsDir() {
			return writeFileToTar(tw, hostPath, filepath.Base(hostPath))
		}
		return writeDirToTar(tw, root, hostPath, ex)
	})
}

// Pipes a tar stream produced by write into the container.
//
// The writer runs in its own goroutine. Its error takes precedence over
// the extraction error, which is usually a consequence of it.
func streamTar(ctx context.Context, ctr Container, destDir string, write func(*tar.Writer) error) error {
	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		tw := tar.NewWriter(pw)
		err := write(tw)
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
		errc <- err
	}()

	copyErr := ctr.CopyTo(ctx, pr, destDir)

	// Unblocks the writer when extraction stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)

	if err := <-errc; err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}
	if copyErr != nil {
		return fmt.Errorf("%w: %w", ErrCopy, copyErr)
	}
	return nil
}

// Writes a single file to a tar writer with the given archive name.
func writeFileToTar(tw *tar.Writer, hostPath, name string) error {
	info, err := os.Lstat(hostPath)
	if err != nil {
		return err
	}
	return writeTarEntry(tw, hostPath, name, info)
}

// Writes the contents of a directory to a tar writer.
//
// Archive names are relative to hostDir. Excluded entries are left out;
// an excluded directory is skipped whole unless a negated pattern could
// re-include something beneath it.
func writeDirToTar(tw *tar.Writer, root, hostDir string, ex excluder) error {
	return filepath.WalkDir(hostDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name, err := filepath.Rel(hostDir, path)
		if err != nil {
			return err
		}
		if name == "." {
			return nil
		}

		if ex != nil {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if ex.Match(rel) {
				if d.IsDir() && !ex.Negates() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return writeTarEntry(tw, path, filepath.ToSlash(name), info)
	})
}

// Writes a single file, directory, or symlink entry to a tar writer.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, info fs.FileInfo) error {
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = archivePath
	if info.IsDir() && !strings.HasSuffix(header.Name, "/") {
		header.Name += "/"
	}

	// Ownership is the container's, not the host user's.
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}

// Excludes a set of context subtrees in addition to the recipe's matcher.
type outputExcluder struct {
	*recipe.Matcher
	skip []string // Context-relative slash paths.
}

func (o outputExcluder) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, s := range o.skip {
		if rel == s || strings.HasPrefix(rel, s+"/") {
			return true
		}
	}
	return o.Matcher.Match(rel)
}

// Builds the source excluder: the recipe's ignore rules plus the output
// directory when it lies inside the context.
func newExcluder(r *recipe.Recipe, root, output string) (excluder, error) {
	m, err := r.IgnoreMatcher(root)
	if err != nil {
		return nil, err
	}

	ex := outputExcluder{Matcher: m}
	if rel, ok := contextRel(root, output); ok {
		ex.skip = append(ex.skip, rel)
	}
	return ex, nil
}

// Returns path relative to root when it lies strictly inside it.
func contextRel(root, path string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
