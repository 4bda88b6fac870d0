package build

import (
	"path"
	"strings"
)

// OSKind is the operating system a build artifact targets.
type OSKind int

const (
	// MacOS is a universal macOS standalone build.
	MacOS OSKind = iota + 1
	// Windows is a 64-bit Windows standalone build.
	Windows
)

// String returns a human-readable OS name.
func (k OSKind) String() string {
	switch k {
	case MacOS:
		return "macOS"
	case Windows:
		return "Windows"
	default:
		return "unknown"
	}
}

// Event is a successful build ready to be deployed.
type Event struct {
	// ProjectName is the Unity Cloud Build project.
	ProjectName string
	// TargetName is the build target inside the project.
	TargetName string
	// OS is informational; every OS is ingested the same way.
	OS OSKind
	// ArchiveURL points at the primary zipped artifact.
	ArchiveURL string
	// BuildNumber is the UCB build number, zero when absent.
	BuildNumber int
}

// Slot returns the deployment slot the event installs into.
func (e Event) Slot() SlotKey {
	return SlotKey{Project: e.ProjectName, Target: e.TargetName}
}

// SlotKey identifies a deployment slot.
type SlotKey struct {
	Project string
	Target  string
}

// String returns "project/target".
func (k SlotKey) String() string {
	return k.Project + "/" + k.Target
}

// ValidName reports whether name is safe to use as a single path element.
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}

	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}

	return path.Base(name) == name
}
