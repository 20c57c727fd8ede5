package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jarsater/taskbridge/internal/metrics"
)

// Set is the in-memory command registry. Built-in commands registered in
// code come first, followed by the commands of the current manifest. The
// manifest part can be swapped at any time; readers always see a consistent
// snapshot.
type Set struct {
	mu      sync.RWMutex
	builtin []Command
	loaded  []Command
	logger  *zap.SugaredLogger
}

// NewSet creates an empty registry. logger receives the stderr of external
// commands and reload diagnostics; it may be nil.
func NewSet(logger *zap.SugaredLogger) *Set {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Set{logger: logger}
}

// Register adds built-in commands. They survive manifest reloads.
func (s *Set) Register(cmds ...Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	builtin := append(cloneCommands(s.builtin), cloneCommands(cmds)...)
	if err := checkCommands(builtin, nil); err != nil {
		return err
	}
	if err := checkCommands(s.loaded, builtin); err != nil {
		return err
	}
	s.builtin = builtin
	metrics.SetRegistryCommands(len(s.builtin) + len(s.loaded))
	return nil
}

// Replace swaps the manifest commands for cmds.
func (s *Set) Replace(cmds []Command) error {
	cmds = cloneCommands(cmds)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkCommands(cmds, s.builtin); err != nil {
		return err
	}
	s.loaded = cmds
	metrics.SetRegistryCommands(len(s.builtin) + len(s.loaded))
	return nil
}

// Commands returns a snapshot of every command in registry order.
func (s *Set) Commands() []Command {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Command, 0, len(s.builtin)+len(s.loaded))
	out = append(out, s.builtin...)
	return cloneCommands(append(out, s.loaded...))
}

// Find returns the command named name.
func (s *Set) Find(name string) (Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, group := range [][]Command{s.builtin, s.loaded} {
		for _, c := range group {
			if c.Name == name {
				return cloneCommands([]Command{c})[0], true
			}
		}
	}
	return Command{}, false
}

// checkCommands normalizes cmds in place and rejects duplicate names, both
// within cmds and against reserved.
func checkCommands(cmds []Command, reserved []Command) error {
	names := make(map[string]bool, len(cmds)+len(reserved))
	for _, c := range reserved {
		names[c.Name] = true
	}
	for i := range cmds {
		if err := cmds[i].normalize(); err != nil {
			return err
		}
		if names[cmds[i].Name] {
			return fmt.Errorf("duplicate command %q", cmds[i].Name)
		}
		names[cmds[i].Name] = true
	}
	return nil
}

func cloneCommands(cmds []Command) []Command {
	out := make([]Command, len(cmds))
	for i, c := range cmds {
		c.Arguments = append([]Argument(nil), c.Arguments...)
		c.Options = append([]Option(nil), c.Options...)
		c.Run = append([]string(nil), c.Run...)
		out[i] = c
	}
	return out
}
