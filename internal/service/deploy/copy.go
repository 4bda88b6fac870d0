package deploy

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/ucb-deployer/internal/logger"
)

// gitignoreName is never merged from the accompaniment root.
const gitignoreName = ".gitignore"

var errNotRegular = errors.New("unsupported file type")

// copyTree copies src into dst, which must not exist yet. Entries whose base
// name satisfies skip are left out, directories included.
func copyTree(src, dst string, skip func(name string) bool) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		return 0, fmt.Errorf("%s: not a directory", src)
	}

	if err = os.Mkdir(dst, dirPermissions); err != nil {
		return 0, err
	}

	files := 0

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}

		if skip != nil && skip(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, dirPermissions)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}

			return os.Symlink(link, target)
		case d.Type().IsRegular():
			if err := copyRegular(path, target); err != nil {
				return err
			}

			files++

			return nil
		default:
			return fmt.Errorf("%w: %s", errNotRegular, path)
		}
	})

	return files, err
}

func copyRegular(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

// mergeAccompaniment overlays the project's accompaniment directory onto dst.
// Top-level .gitignore is skipped, files replace existing ones and
// directories are merged. A missing directory is not an error.
func mergeAccompaniment(ctx context.Context, src, dst string) (int, error) {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		logger.WarnKV(ctx, "Accompaniment directory not found or not a directory, skipping", "path", src)

		return 0, nil //nolint:nilerr // Missing accompaniment is optional.
	}

	files := 0

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}

		if rel == gitignoreName {
			return nil
		}

		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, dirPermissions)
		}

		if !d.Type().IsRegular() {
			return fmt.Errorf("%w: %s", errNotRegular, path)
		}

		logger.DebugKV(ctx, "Merging accompaniment file", "file", rel)

		if err := overwriteFile(path, target); err != nil {
			return fmt.Errorf("overwrite %s: %w", rel, err)
		}

		files++

		return nil
	})

	return files, err
}

// overwriteFile replaces dst with src through go-update, which swaps the
// file in with renames and verifies the written bytes against a checksum.
func overwriteFile(src, dst string) error {
	data, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	// Apply renames the current target away first, so it has to exist.
	if _, err = os.Lstat(dst); errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}

		if err = f.Close(); err != nil {
			return err
		}
	}

	checksum := sha256.Sum256(data)

	err = goupdate.Apply(bytes.NewReader(data), goupdate.Options{
		TargetPath: dst,
		TargetMode: info.Mode().Perm(),
		Checksum:   checksum[:],
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return err
	}

	oldFileName := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".old")
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}
