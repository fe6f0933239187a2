package outreach

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Library holds the base documents, keyed by normalized role.
type Library struct {
	docs map[string]string
}

// NewLibrary builds a library from an in-memory map.
func NewLibrary(docs map[string]string) *Library {
	l := &Library{docs: make(map[string]string, len(docs))}
	for role, doc := range docs {
		l.docs[normalizeRole(role)] = doc
	}
	return l
}

// LoadLibrary reads every .txt and .md file in dir; the file name
// without extension is the role.
func LoadLibrary(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read base documents dir: %w", err)
	}

	docs := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".txt" && ext != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		docs[strings.TrimSuffix(e.Name(), ext)] = string(data)
	}

	return NewLibrary(docs), nil
}

// ForRole returns the base document for role.
func (l *Library) ForRole(role string) (string, error) {
	if doc, ok := l.docs[normalizeRole(role)]; ok {
		return doc, nil
	}
	return "", fmt.Errorf("no base document for role %q (available: %s)", role, strings.Join(l.Roles(), ", "))
}

// Roles lists the known roles.
func (l *Library) Roles() []string {
	roles := make([]string, 0, len(l.docs))
	for r := range l.docs {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(r)
}
