// Package assets embeds the default entity catalog and reference seed data.
package assets

import (
	"embed"
	"io/fs"
	"os"
)

// Schema holds schema/*.dsl.
//
//go:embed schema/*.dsl
var Schema embed.FS

// Reference holds reference/*.yaml seed catalogs.
//
//go:embed reference/*.yaml
var Reference embed.FS

// SchemaSource returns where to read *.dsl from: dir when set, the embedded
// copy otherwise.
func SchemaSource(dir string) (fs.FS, string) {
	if dir == "" {
		return Schema, "schema"
	}
	return os.DirFS(dir), "."
}

// ReferenceSource is SchemaSource for the seed files.
func ReferenceSource(dir string) (fs.FS, string) {
	if dir == "" {
		return Reference, "reference"
	}
	return os.DirFS(dir), "."
}
