package shaders

import (
	"bufio"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	ErrUnknownModule = errors.New("unknown shader module")
	ErrDirective     = errors.New("malformed shader directive")
)

// Composer assembles WGSL from named modules.
//
// Two kinds of directive are recognised, each on a line of its own:
//
//	#import <module>
//	#ifdef <DEF> / #ifndef <DEF> / #else / #endif
//
// An import is replaced by the module's composed text the first time it is
// seen within a composition and dropped afterwards, so shared modules may be
// imported from several places. Conditional blocks nest and are evaluated
// against the defs passed to Compose.
type Composer struct {
	mu      sync.RWMutex
	modules map[string]string
}

// NewComposer returns a composer preloaded with the atmosphere shaders.
func NewComposer() *Composer {
	return &Composer{modules: builtinModules()}
}

// Register adds or replaces a module.
func (c *Composer) Register(name, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modules == nil {
		c.modules = make(map[string]string)
	}
	c.modules[name] = source
}

func (c *Composer) Modules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Composer) Compose(name string, defs []string) (string, error) {
	set := make(map[string]bool, len(defs))
	for _, d := range defs {
		set[d] = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out strings.Builder
	if err := c.compose(&out, name, set, map[string]bool{}); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (c *Composer) compose(out *strings.Builder, name string, defs, seen map[string]bool) error {
	src, ok := c.modules[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	seen[name] = true

	// active[i] reports whether lines are emitted at nesting depth i.
	active := []bool{true}
	scanner := bufio.NewScanner(strings.NewReader(src))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		emitting := active[len(active)-1]

		if !strings.HasPrefix(trimmed, "#") {
			if emitting {
				out.WriteString(line)
				out.WriteByte('\n')
			}
			continue
		}

		fields := strings.Fields(trimmed)
		directive, args := fields[0], fields[1:]
		switch directive {
		case "#ifdef", "#ifndef":
			if len(args) != 1 {
				return fmt.Errorf("%w: %s:%d: %s needs one def", ErrDirective, name, lineNo, directive)
			}
			cond := defs[args[0]]
			if directive == "#ifndef" {
				cond = !cond
			}
			active = append(active, emitting && cond)
		case "#else":
			if len(active) == 1 {
				return fmt.Errorf("%w: %s:%d: #else without #ifdef", ErrDirective, name, lineNo)
			}
			parent := active[len(active)-2]
			active[len(active)-1] = parent && !active[len(active)-1]
		case "#endif":
			if len(active) == 1 {
				return fmt.Errorf("%w: %s:%d: #endif without #ifdef", ErrDirective, name, lineNo)
			}
			active = active[:len(active)-1]
		case "#import":
			if len(args) != 1 {
				return fmt.Errorf("%w: %s:%d: #import needs one module", ErrDirective, name, lineNo)
			}
			if !emitting || seen[args[0]] {
				continue
			}
			if err := c.compose(out, args[0], defs, seen); err != nil {
				return fmt.Errorf("%s:%d: %w", name, lineNo, err)
			}
		default:
			return fmt.Errorf("%w: %s:%d: unknown directive %s", ErrDirective, name, lineNo, directive)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(active) != 1 {
		return fmt.Errorf("%w: %s: unterminated #ifdef", ErrDirective, name)
	}
	return nil
}
