// Package migrations owns the catalogue schema and applies its versioned,
// reversible revisions to SQL storage engines.
//
// Revisions are embedded SQL files, one directory per dialect:
//
//	sql/<dialect>/<NNNN>_<name>.up.sql
//	sql/<dialect>/<NNNN>_<name>.down.sql
//
// Every dialect carries the same revision ids, so the logical schema is
// identical across engines even where the physical encoding differs.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

//go:embed sql
var FS embed.FS

// Dialect names a SQL flavour with its own set of revision files.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var dialects = []Dialect{SQLite, Postgres}

// Revision is one atomic, reversible schema change.
type Revision struct {
	ID   string // e.g. "0001_create_movies"
	Up   string
	Down string
}

// Load returns the revisions of the given dialect in canonical order.
//
// It fails if any revision lacks its up or down step, or if the dialects
// disagree on the set of revision ids.
func Load(d Dialect) ([]Revision, error) {
	if !slices.Contains(dialects, d) {
		return nil, fmt.Errorf("unknown dialect %q", d)
	}

	all := make(map[Dialect][]Revision, len(dialects))
	for _, dd := range dialects {
		revs, err := loadDialect(dd)
		if err != nil {
			return nil, err
		}
		all[dd] = revs
	}

	want := ids(all[d])
	for _, dd := range dialects {
		if got := ids(all[dd]); !slices.Equal(want, got) {
			return nil, fmt.Errorf("dialect %q revisions %v differ from %q revisions %v", dd, got, d, want)
		}
	}

	return all[d], nil
}

func loadDialect(d Dialect) ([]Revision, error) {
	dir := path.Join("sql", string(d))

	entries, err := fs.ReadDir(FS, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	byID := make(map[string]*Revision)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".sql")
		id, direction, ok := cutLast(name, ".")
		if !ok || (direction != "up" && direction != "down") {
			return nil, fmt.Errorf("%s: unexpected file name %q", d, entry.Name())
		}

		content, err := fs.ReadFile(FS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}

		rev := byID[id]
		if rev == nil {
			rev = &Revision{ID: id}
			byID[id] = rev
		}

		if direction == "up" {
			rev.Up = string(content)
		} else {
			rev.Down = string(content)
		}
	}

	revs := make([]Revision, 0, len(byID))
	for _, rev := range byID {
		if strings.TrimSpace(rev.Up) == "" || strings.TrimSpace(rev.Down) == "" {
			return nil, fmt.Errorf("%s: revision %s must have both up and down steps", d, rev.ID)
		}
		revs = append(revs, *rev)
	}

	slices.SortFunc(revs, func(a, b Revision) int { return strings.Compare(a.ID, b.ID) })

	return revs, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func ids(revs []Revision) []string {
	res := make([]string, len(revs))
	for i, r := range revs {
		res[i] = r.ID
	}
	return res
}
