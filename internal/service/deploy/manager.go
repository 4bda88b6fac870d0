package deploy

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/oshokin/ucb-deployer/internal/archive"
	"github.com/oshokin/ucb-deployer/internal/domain/build"
	"github.com/oshokin/ucb-deployer/internal/logger"
)

// IgnorePattern matches Unity's debug-symbol folders, which must never ship.
const IgnorePattern = "*BackUpThisFolder_ButDontShipItWithYourGame*"

const dirPermissions = 0o755

var (
	// ErrArchiveFailed means the previous build could not be snapshotted; the slot is untouched.
	ErrArchiveFailed = errors.New("archiving previous build failed")
	// ErrCopyFailed means the new tree could not be assembled or swapped in.
	ErrCopyFailed = errors.New("installing build failed")

	// ErrReservedSlot means the slot would overlap the archive directory.
	ErrReservedSlot = errors.New("slot overlaps the archive directory")

	errArchiveExists = errors.New("archive already exists")
)

// Options configure a Manager.
type Options struct {
	// OutputRoot contains one directory per project, each holding target slots.
	OutputRoot string
	// ArchiveRoot receives zip snapshots of replaced slots.
	ArchiveRoot string
	// AccompanimentRoot contains per-project resources merged into every install.
	AccompanimentRoot string
	// Stamper names archives and incoming directories; a private one when nil.
	Stamper *build.Stamper
}

// Report describes a finished install.
type Report struct {
	// SlotDir is the installed slot.
	SlotDir string
	// ArchivePath is the snapshot of the previous build, empty on first install.
	ArchivePath string
	// ArchiveDigest is the hex BLAKE3 digest of ArchivePath.
	ArchiveDigest string
	// Files counts regular files installed, accompaniment included.
	Files int
}

// Manager owns the deployment slots under one output root.
type Manager struct {
	outputRoot        string
	archiveRoot       string
	accompanimentRoot string
	stamper           *build.Stamper

	mu    sync.Mutex
	slots map[string]*sync.Mutex
}

// New returns a Manager.
func New(opts Options) *Manager {
	stamper := opts.Stamper
	if stamper == nil {
		stamper = build.NewStamper(nil)
	}

	return &Manager{
		outputRoot:        opts.OutputRoot,
		archiveRoot:       opts.ArchiveRoot,
		accompanimentRoot: opts.AccompanimentRoot,
		stamper:           stamper,
		slots:             make(map[string]*sync.Mutex),
	}
}

// SlotDir returns the directory of a slot.
func (m *Manager) SlotDir(project, target string) string {
	return filepath.Join(m.outputRoot, project, target)
}

// overlapsArchives reports whether the project directory and the archive root
// contain one another. Archives are append-only, so no slot may live there.
func (m *Manager) overlapsArchives(project string) bool {
	projectDir, err := filepath.Abs(filepath.Join(m.outputRoot, project))
	if err != nil {
		return true
	}

	archiveRoot, err := filepath.Abs(m.archiveRoot)
	if err != nil {
		return true
	}

	return contains(projectDir, archiveRoot) || contains(archiveRoot, projectDir)
}

func contains(base, path string) bool {
	rel, err := filepath.Rel(base, path)

	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// slotLock returns the mutex of a slot, creating it on first use.
// Locks are kept for the life of the process.
func (m *Manager) slotLock(key build.SlotKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.slots[key.String()]
	if !ok {
		l = new(sync.Mutex)
		m.slots[key.String()] = l
	}

	return l
}

// Install replaces the slot of project/target with the contents of extractedDir.
func (m *Manager) Install(ctx context.Context, project, target, extractedDir string) (Report, error) {
	lock := m.slotLock(build.SlotKey{Project: project, Target: target})
	lock.Lock()
	defer lock.Unlock()

	report := Report{SlotDir: m.SlotDir(project, target)}

	if m.overlapsArchives(project) {
		return report, fmt.Errorf("%w: project %q", ErrReservedSlot, project)
	}

	incoming, files, err := m.assemble(ctx, project, target, extractedDir)
	if err != nil {
		return report, err
	}

	report.Files = files

	if _, err = os.Lstat(report.SlotDir); err == nil {
		report.ArchivePath, report.ArchiveDigest, err = m.archiveSlot(ctx, project, target, report.SlotDir)
		if err != nil {
			_ = os.RemoveAll(incoming)

			return report, fmt.Errorf("%w: %w", ErrArchiveFailed, err)
		}

		logger.InfoKV(ctx, "Previous build archived",
			"archive", report.ArchivePath,
			"blake3", report.ArchiveDigest)

		if err = os.RemoveAll(report.SlotDir); err != nil {
			_ = os.RemoveAll(incoming)

			return report, fmt.Errorf("%w: remove previous build: %w", ErrCopyFailed, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		_ = os.RemoveAll(incoming)

		return report, fmt.Errorf("%w: stat slot: %w", ErrArchiveFailed, err)
	}

	if err = os.Rename(incoming, report.SlotDir); err != nil {
		_ = os.RemoveAll(incoming)

		return report, fmt.Errorf("%w: swap in new build: %w", ErrCopyFailed, err)
	}

	logger.InfoKV(ctx, "Build installed", "slot", report.SlotDir, "files", files)

	return report, nil
}

// assemble builds the new slot contents in a hidden sibling directory.
func (m *Manager) assemble(ctx context.Context, project, target, extractedDir string) (string, int, error) {
	projectDir := filepath.Join(m.outputRoot, project)
	if err := os.MkdirAll(projectDir, dirPermissions); err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}

	incoming := filepath.Join(projectDir, "."+target+".incoming-"+m.stamper.NextString())

	logger.DebugKV(ctx, "Assembling build", "from", extractedDir, "into", incoming)

	files, err := copyTree(extractedDir, incoming, skipDebugSymbols)
	if err != nil {
		_ = os.RemoveAll(incoming)

		return "", 0, fmt.Errorf("%w: copy artifact: %w", ErrCopyFailed, err)
	}

	merged, err := mergeAccompaniment(ctx, filepath.Join(m.accompanimentRoot, project), incoming)
	if err != nil {
		_ = os.RemoveAll(incoming)

		return "", 0, fmt.Errorf("%w: accompaniment: %w", ErrCopyFailed, err)
	}

	return incoming, files + merged, nil
}

// archiveSlot zips slotDir into a temp file, syncs it and renames it into
// its final, never reused name.
func (m *Manager) archiveSlot(ctx context.Context, project, target, slotDir string) (string, string, error) {
	if err := os.MkdirAll(m.archiveRoot, dirPermissions); err != nil {
		return "", "", err
	}

	final := filepath.Join(m.archiveRoot, fmt.Sprintf("%s_%s_%s.zip", project, target, m.stamper.NextString()))
	if _, err := os.Lstat(final); err == nil {
		return "", "", fmt.Errorf("%w: %s", errArchiveExists, final)
	}

	logger.InfoKV(ctx, "Archiving previous build", "slot", slotDir, "archive", final)

	tmp, err := os.CreateTemp(m.archiveRoot, "."+project+"_"+target+"_*.zip.tmp")
	if err != nil {
		return "", "", err
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	hasher := blake3.New()

	if _, err = archive.Write(io.MultiWriter(tmp, hasher), slotDir); err != nil {
		return "", "", err
	}

	if err = tmp.Sync(); err != nil {
		return "", "", err
	}

	if err = tmp.Close(); err != nil {
		return "", "", err
	}

	if err = os.Rename(tmpName, final); err != nil {
		return "", "", err
	}

	committed = true

	return final, hex.EncodeToString(hasher.Sum(nil)), nil
}

func skipDebugSymbols(name string) bool {
	matched, _ := filepath.Match(IgnorePattern, name)

	return matched
}
