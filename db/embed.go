// Package db embeds the schema migrations and the demo seed data.
package db

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DemoSeed is the default input of cmd/seed-db.
//
//go:embed seed/seed.yaml
var DemoSeed []byte

// Migration is a single schema step.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded migrations ordered by file name. Every
// statement is idempotent, so the whole list is applied on each start.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		data, err := fs.ReadFile(migrations, "migrations/"+e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Name: e.Name(), SQL: string(data)})
	}
	return out, nil
}
