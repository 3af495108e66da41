package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultBaseDir = ".handoff"

// Paths holds resolved filesystem paths for handoff data.
type Paths struct {
	Base   string // ~/.handoff
	Config string // ~/.handoff/config.yaml
	Env    string // ~/.handoff/.env
	Data   string // ~/.handoff/data
}

// ResolvePaths computes the standard paths. HANDOFF_HOME overrides the base
// directory and may start with "~".
func ResolvePaths() (Paths, error) {
	base := os.Getenv("HANDOFF_HOME")
	if base == "" || base == "~" || strings.HasPrefix(base, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		switch {
		case base == "":
			base = filepath.Join(home, defaultBaseDir)
		case base == "~":
			base = home
		default:
			base = filepath.Join(home, base[2:])
		}
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Env:    filepath.Join(base, ".env"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// SessionDB is the default sqlite database for the session registry.
func (p Paths) SessionDB() string {
	return filepath.Join(p.Data, "handoff.db")
}

// EnsureDirs creates the base and data directories. The session database
// holds vendor credentials, so both are private to the user.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfigPath splits a dot-separated key such as
// "agents.0.handoff.front.shifts" into segments. Numeric segments index
// lists; they must not be negative.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if strings.HasPrefix(p, "-") {
			if _, err := strconv.Atoi(p); err == nil {
				return nil, &ConfigError{Message: "config path contains negative index: " + p}
			}
		}
	}
	return parts, nil
}

// listIndex parses key as a position in a list of length n.
func listIndex(key string, n int) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// child returns the value under key in a map or list node.
func child(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case []any:
		i, ok := listIndex(key, len(n))
		if !ok {
			return nil, false
		}
		return n[i], true
	}
	return nil, false
}

// GetValueAtPath walks maps by key and lists by index.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		next, ok := child(current, key)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// SetValueAtPath stores value at path. Missing map levels are created and a
// scalar in the way is replaced by a map. Lists are never grown: an index
// must name an existing element.
func SetValueAtPath(root map[string]any, path []string, value any) error {
	var current any = root
	for depth, key := range path {
		last := depth == len(path)-1
		switch n := current.(type) {
		case map[string]any:
			if last {
				n[key] = value
				return nil
			}
			next, ok := n[key]
			switch next.(type) {
			case map[string]any, []any:
			default:
				ok = false
			}
			if !ok {
				next = map[string]any{}
				n[key] = next
			}
			current = next
		case []any:
			i, ok := listIndex(key, len(n))
			if !ok {
				return &ConfigError{
					Message: fmt.Sprintf("index %s out of range at %s (length %d)", key, strings.Join(path[:depth], "."), len(n)),
				}
			}
			if last {
				n[i] = value
				return nil
			}
			if _, isMap := n[i].(map[string]any); !isMap {
				if _, isList := n[i].([]any); !isList {
					n[i] = map[string]any{}
				}
			}
			current = n[i]
		}
	}
	return nil
}

// UnsetValueAtPath removes the value at path; list elements are spliced
// out. Returns true if something was removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parentPath, last := path[:len(path)-1], path[len(path)-1]
	if len(parentPath) == 0 {
		if _, ok := root[last]; !ok {
			return false
		}
		delete(root, last)
		return true
	}

	parent, ok := GetValueAtPath(root, parentPath)
	if !ok {
		return false
	}
	switch n := parent.(type) {
	case map[string]any:
		if _, ok := n[last]; !ok {
			return false
		}
		delete(n, last)
		return true
	case []any:
		i, ok := listIndex(last, len(n))
		if !ok {
			return false
		}
		spliced := append(n[:i:i], n[i+1:]...)
		// The list header lives in its parent; write the shorter one back.
		return SetValueAtPath(root, parentPath, spliced) == nil
	}
	return false
}
