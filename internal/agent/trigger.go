// Package agent launches and supervises reviewer subprocesses. Each client
// kind knows how to turn a prompt into a CLI invocation; the Runner is the
// only component that spawns processes.
package agent

import (
	"os/exec"
	"sort"

	"github.com/arvlabs/arv/pkg/errors"
)

// TriggerSpec is the input to building one reviewer invocation.
type TriggerSpec struct {
	// Model is the model identifier passed to the CLI when it takes one.
	Model string
	// CLIPath overrides the binary looked up on PATH.
	CLIPath string
	// Prompt is the fully rendered instruction text.
	Prompt string
}

// CommandPlan is a ready-to-spawn subprocess description. When Stdin is
// non-empty the prompt is piped instead of passed as an argument.
type CommandPlan struct {
	Path  string
	Args  []string
	Stdin string
}

// Trigger builds the invocation for one client kind.
type Trigger interface {
	// Kind returns the client kind identifier.
	Kind() string
	// Available reports whether the CLI binary can be found.
	Available(cliPath string) bool
	// Build produces the subprocess invocation for a prompt.
	Build(spec *TriggerSpec) *CommandPlan
}

var registry = make(map[string]Trigger)

func register(t Trigger) {
	registry[t.Kind()] = t
}

// TriggerFor returns the trigger registered for a client kind.
func TriggerFor(kind string) (Trigger, error) {
	t, ok := registry[kind]
	if !ok {
		return nil, errors.New(errors.ErrCodeClientKind, "unknown client kind: "+kind)
	}
	return t, nil
}

// Kinds lists the registered client kinds, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// resolveBinary picks the CLI path: an explicit override wins, otherwise the
// default name is resolved on PATH at spawn time.
func resolveBinary(cliPath, defaultName string) string {
	if cliPath != "" {
		return cliPath
	}
	return defaultName
}

func binaryAvailable(cliPath, defaultName string) bool {
	_, err := exec.LookPath(resolveBinary(cliPath, defaultName))
	return err == nil
}
