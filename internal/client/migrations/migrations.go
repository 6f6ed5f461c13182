// Package migrations embeds the on-device schema. Every container is created
// by its own migration file so that a single missing table can be rebuilt
// from its file without touching the others.
package migrations

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.sql
var Migrations embed.FS

// Container ties a store table to the migration file that creates it.
type Container struct {
	Name string
	File string
}

// Containers lists every table the store expects, in migration order.
var Containers = []Container{
	{Name: "settings", File: "00001_settings.sql"},
	{Name: "photos", File: "00002_photos.sql"},
	{Name: "photo_metadata", File: "00003_photo_metadata.sql"},
	{Name: "folders", File: "00004_folders.sql"},
	{Name: "villages", File: "00005_villages.sql"},
	{Name: "sub_villages", File: "00006_sub_villages.sql"},
	{Name: "houses", File: "00007_houses.sql"},
	{Name: "sync_queue", File: "00008_sync_queue.sql"},
	{Name: "entries", File: "00009_entries.sql"},
}

// UpStatements returns the statements of the Up section of file with goose
// annotations stripped.
func UpStatements(file string) ([]string, error) {
	b, err := Migrations.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read migration %s: %w", file, err)
	}

	up := string(b)
	if i := strings.Index(up, "-- +goose Down"); i >= 0 {
		up = up[:i]
	}

	var body strings.Builder
	for _, line := range strings.Split(up, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "-- +goose") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var stmts []string
	for _, s := range strings.Split(body.String(), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}
