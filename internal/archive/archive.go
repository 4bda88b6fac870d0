package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPermissions = 0o755
	maxLinkLength  = 4096
)

// ErrUnsafePath is returned for entries escaping the extraction root.
var ErrUnsafePath = errors.New("unsafe archive path")

// SafeJoin joins an archive entry name to base, refusing absolute names and
// names that climb out of base.
func SafeJoin(base, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(name)))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: absolute %q", ErrUnsafePath, name)
	}

	target := filepath.Join(base, clean)

	if !within(base, target) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	return target, nil
}

// Extract unpacks the zip at src into dest, creating dest if needed.
// Every write goes through an [os.Root] opened on dest, so no entry can land
// outside it even by following links. It returns the number of files written.
func Extract(src, dest string) (int, error) {
	r, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = r.Close()

		return 0, fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}

	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}

	defer func() { _ = r.Close() }()

	if err = os.MkdirAll(dest, dirPermissions); err != nil {
		return 0, err
	}

	root, err := os.OpenRoot(dest)
	if err != nil {
		return 0, err
	}

	defer func() { _ = root.Close() }()

	realDest, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return 0, err
	}

	files := 0

	for _, f := range r.File {
		target, err := SafeJoin(dest, f.Name)
		if err != nil {
			return files, err
		}

		name, err := filepath.Rel(dest, target)
		if err != nil {
			return files, fmt.Errorf("%w: %q", ErrUnsafePath, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err = root.MkdirAll(name, dirPermissions); err != nil {
				return files, fmt.Errorf("extract %q: %w", f.Name, err)
			}

			continue
		}

		if f.Mode()&fs.ModeSymlink != 0 {
			if err = extractSymlink(f, root, realDest, name); err != nil {
				return files, err
			}

			files++

			continue
		}

		if err = extractFile(f, root, name); err != nil {
			return files, fmt.Errorf("extract %q: %w", f.Name, err)
		}

		files++
	}

	return files, nil
}

// extractSymlink recreates a link whose destination stays inside the root.
// App bundles rely on relative links inside their frameworks.
func extractSymlink(f *zip.File, root *os.Root, realDest, name string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}

	link, err := io.ReadAll(io.LimitReader(rc, maxLinkLength))
	_ = rc.Close()

	if err != nil {
		return fmt.Errorf("read symlink %q: %w", f.Name, err)
	}

	linkTarget := filepath.FromSlash(string(link))
	if filepath.IsAbs(linkTarget) || filepath.VolumeName(linkTarget) != "" {
		return fmt.Errorf("%w: symlink %q points to absolute %q", ErrUnsafePath, f.Name, link)
	}

	if parent := filepath.Dir(name); parent != "." {
		if err = root.MkdirAll(parent, dirPermissions); err != nil {
			return fmt.Errorf("extract %q: %w", f.Name, err)
		}
	}

	if err = checkLink(realDest, filepath.Join(realDest, filepath.Dir(name)), linkTarget); err != nil {
		return fmt.Errorf("symlink %q: %w", f.Name, err)
	}

	return root.Symlink(linkTarget, name)
}

// checkLink resolves linkTarget from dir the way the kernel would, following
// links already on disk, and fails once the walk leaves realDest.
// A ".." after a component that does not exist yet is refused, since a link
// created there later could move it.
func checkLink(realDest, dir, linkTarget string) error {
	cur, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}

	if !within(realDest, cur) {
		return fmt.Errorf("%w: parent resolves outside the root", ErrUnsafePath)
	}

	pending := false

	for _, part := range strings.Split(linkTarget, string(os.PathSeparator)) {
		switch part {
		case "", ".":
			continue
		case "..":
			if pending || cur == realDest {
				return fmt.Errorf("%w: %q escapes", ErrUnsafePath, linkTarget)
			}

			cur = filepath.Dir(cur)

			continue
		}

		next := filepath.Join(cur, part)

		if pending {
			cur = next

			continue
		}

		info, err := os.Lstat(next)

		switch {
		case err != nil:
			pending = true
			cur = next
		case info.Mode()&fs.ModeSymlink != 0:
			resolved, evalErr := filepath.EvalSymlinks(next)
			if evalErr != nil {
				pending = true
				cur = next

				continue
			}

			if !within(realDest, resolved) {
				return fmt.Errorf("%w: %q passes through a link leaving the root", ErrUnsafePath, linkTarget)
			}

			cur = resolved
		default:
			cur = next
		}
	}

	return nil
}

// within reports whether path is base or below it.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)

	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func extractFile(f *zip.File, root *os.Root, name string) error {
	if parent := filepath.Dir(name); parent != "." {
		if err := root.MkdirAll(parent, dirPermissions); err != nil {
			return err
		}
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}

	defer func() { _ = rc.Close() }()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	out, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	//nolint:gosec // Size is bounded by the artifact the CI produced.
	if _, err = io.Copy(out, rc); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

// Write zips every file under root into w using deflate.
// Entry names are relative to root; directories get their own entries so
// empty ones survive a round trip. It returns the number of files written.
func Write(w io.Writer, root string) (int, error) {
	zw := zip.NewWriter(w)
	files := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}

		header.Name = filepath.ToSlash(rel)

		if d.IsDir() {
			header.Name += "/"
			_, err = zw.CreateHeader(header)

			return err
		}

		header.Method = zip.Deflate

		if info.Mode()&fs.ModeSymlink != 0 {
			return writeSymlink(zw, header, path)
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %q is not a regular file", ErrUnsafePath, rel)
		}

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		if err = copyFile(entry, path); err != nil {
			return err
		}

		files++

		return nil
	})
	if err != nil {
		_ = zw.Close()

		return files, err
	}

	return files, zw.Close()
}

// writeSymlink stores the link target as the entry body, the way Info-ZIP does.
func writeSymlink(zw *zip.Writer, header *zip.FileHeader, path string) error {
	link, err := os.Readlink(path)
	if err != nil {
		return err
	}

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.WriteString(entry, filepath.ToSlash(link))

	return err
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	_, err = io.Copy(w, f)

	return err
}
