package reference

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads every *.yaml / *.yml under root. Files are processed in name
// order so seeds of parents can be listed before their children.
func Load(fsys fs.FS, root string) (*Bundle, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(path.Ext(p))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	b := &Bundle{}
	for _, p := range files {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, err
		}
		var sf SeedFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if sf.Entity == "" && len(sf.Roles) == 0 {
			return nil, fmt.Errorf("%s: neither entity nor roles declared", p)
		}
		if sf.Entity != "" {
			b.Seeds = append(b.Seeds, Seed{Entity: sf.Entity, Source: p, Records: sf.Records})
		}
		for _, rg := range sf.Roles {
			if strings.TrimSpace(rg.Role) == "" {
				return nil, fmt.Errorf("%s: role without name", p)
			}
			b.Roles = append(b.Roles, rg)
		}
	}
	return b, nil
}
