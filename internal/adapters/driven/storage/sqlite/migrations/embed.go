// Package migrations holds the versioned schema of the nestsync state
// database. Files are named NNN_description.up.sql and .down.sql.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Migration is one forward schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Pending returns the up migrations newer than applied, oldest first.
func Pending(applied int) ([]Migration, error) {
	return pendingIn(files, applied)
}

func pendingIn(fsys fs.FS, applied int) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var pending []Migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		if version <= applied {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		pending = append(pending, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })
	return pending, nil
}
