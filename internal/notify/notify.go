package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// Binary is the notifier executable looked up on PATH.
const Binary = "terminal-notifier"

const waitDelay = 2 * time.Second

// Sound is a terminal-notifier sound name. Constants are named after the
// macOS Big Sur sounds; values are the legacy names terminal-notifier accepts.
type Sound string

// Available sounds.
const (
	SoundBoop     Sound = "Tink"
	SoundBreeze   Sound = "Blow"
	SoundBubble   Sound = "Pop"
	SoundCrystal  Sound = "Glass"
	SoundFunky    Sound = "Funk"
	SoundHeroine  Sound = "Hero"
	SoundJump     Sound = "Frog"
	SoundMezzo    Sound = "Basso"
	SoundPebble   Sound = "Bottle"
	SoundPluck    Sound = "Purr"
	SoundPong     Sound = "Morse"
	SoundSonar    Sound = "Ping"
	SoundSosumi   Sound = "Sosumi"
	SoundSubmerge Sound = "Submarine"
	SoundDefault  Sound = "default"
)

// Notification is a single desktop notification.
type Notification struct {
	Title   string
	Message string
	Sound   Sound
}

// Capability tells whether and how notifications can be shown.
type Capability struct {
	// Available is false on systems without terminal-notifier.
	Available bool
	// Path is the resolved notifier executable.
	Path string
}

// Detect probes the current system. Disabled short-circuits to unavailable.
func Detect(enabled bool) Capability {
	if !enabled || runtime.GOOS != "darwin" {
		return Capability{}
	}

	path, err := exec.LookPath(Binary)
	if err != nil {
		return Capability{}
	}

	return Capability{Available: true, Path: path}
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type runFunc func(ctx context.Context, name string, args ...string) error

// TerminalNotifier runs terminal-notifier for every notification.
type TerminalNotifier struct {
	capability Capability
	run        runFunc
}

// New returns a notifier bound to capability.
func New(capability Capability) *TerminalNotifier {
	return &TerminalNotifier{capability: capability, run: runCommand}
}

// Notify shows n, or does nothing when notifications are unavailable.
func (t *TerminalNotifier) Notify(ctx context.Context, n Notification) error {
	if !t.capability.Available {
		return nil
	}

	if err := t.run(ctx, t.capability.Path, Args(n)...); err != nil {
		return fmt.Errorf("%s: %w", Binary, err)
	}

	return nil
}

// Args renders the terminal-notifier command line for n.
// With an empty message the title is shown as the message.
func Args(n Notification) []string {
	sound := n.Sound
	if sound == "" {
		sound = SoundDefault
	}

	var args []string
	if n.Message != "" {
		args = []string{"-title", n.Title, "-message", n.Message}
	} else {
		args = []string{"-message", n.Title}
	}

	return append(args, "-sound", string(sound))
}

// runCommand kills the command when ctx ends; WaitDelay stops a leftover child
// holding the output pipe from keeping it alive.
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}

	return nil
}
