package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var (
	moduleRe      = regexp.MustCompile(`^module\s+([A-Za-z0-9_.-]+)$`)
	entityRe      = regexp.MustCompile(`^entity\s+(\w+)(.*):$`)
	fieldRe       = regexp.MustCompile(`^([A-Za-z_][\w]*):\s*([^\s#]+)(.*)$`)
	refRe         = regexp.MustCompile(`^ref\[([A-Za-z0-9_.]+)\]$`)
	constraintsRe = regexp.MustCompile(`^constraints\s*:$`)
	uniqueLineRe  = regexp.MustCompile(`^unique\s*\(\s*([^)]+)\s*\)$`)
)

var knownTypes = map[string]bool{
	TypeString: true, TypeInt: true, TypeDecimal: true, TypeBool: true, TypeDate: true,
}

// splitOptionTokens splits `k=v k2='v 2' pattern=^[A-Z]+$` on blanks that are
// outside quotes and [...] groups.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	depth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch {
		case r == '\'' && !inDouble && depth == 0:
			inSingle = !inSingle
		case r == '"' && !inSingle && depth == 0:
			inDouble = !inDouble
		case r == '[' && !inSingle && !inDouble:
			depth++
		case r == ']' && !inSingle && !inDouble && depth > 0:
			depth--
		case (r == ' ' || r == '\t') && !inSingle && !inDouble && depth == 0:
			flush()
			continue
		}
		buf = append(buf, r)
	}
	flush()
	return out
}

// stripComment cuts a trailing `# ...` that is not inside quotes.
func stripComment(s string) string {
	inSingle, inDouble := false, false
	for i, r := range s {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return strings.TrimSpace(s[:i])
			}
		}
	}
	return strings.TrimSpace(s)
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func parseOptions(raw string) map[string]string {
	opts := map[string]string{}
	for _, tok := range splitOptionTokens(raw) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		k, v, found := strings.Cut(tok, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if !found {
			opts[k] = "true"
			continue
		}
		opts[k] = unquote(strings.TrimSpace(v))
	}
	return opts
}

// Parse reads entity declarations from r. name is used in error messages.
func Parse(name string, r io.Reader) ([]*Entity, error) {
	var (
		entities      []*Entity
		current       *Entity
		module        string
		inConstraints bool
		lineNo        int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			module = m[1]
			inConstraints = false
			continue
		}

		if m := entityRe.FindStringSubmatch(line); m != nil {
			if module == "" {
				return nil, fmt.Errorf("%s:%d: entity %q declared before `module`", name, lineNo, m[1])
			}
			opts := parseOptions(m[2])
			current = &Entity{Module: module, Name: m[1], Label: opts["label"]}
			if current.Label == "" {
				current.Label = current.Name
			}
			entities = append(entities, current)
			inConstraints = false
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("%s:%d: unexpected %q outside of an entity", name, lineNo, line)
		}

		if constraintsRe.MatchString(line) {
			inConstraints = true
			continue
		}

		if inConstraints {
			m := uniqueLineRe.FindStringSubmatch(stripComment(line))
			if m == nil {
				return nil, fmt.Errorf("%s:%d: unknown constraint %q", name, lineNo, line)
			}
			var set []string
			for _, p := range strings.Split(m[1], ",") {
				if p = strings.TrimSpace(p); p != "" {
					set = append(set, p)
				}
			}
			if len(set) > 0 {
				current.Constraints.Unique = append(current.Constraints.Unique, set)
			}
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%s:%d: cannot parse field %q", name, lineNo, line)
		}
		f := Field{Name: m[1], Type: strings.ToLower(m[2])}
		if rm := refRe.FindStringSubmatch(m[2]); rm != nil {
			f.Type = TypeRef
			f.RefTarget = rm[1]
		} else if !knownTypes[f.Type] {
			return nil, fmt.Errorf("%s:%d: field %q has unknown type %q", name, lineNo, f.Name, m[2])
		}
		f.Options = parseOptions(stripComment(m[3]))
		for _, existing := range current.Fields {
			if strings.EqualFold(existing.Name, f.Name) {
				return nil, fmt.Errorf("%s:%d: duplicate field %q in %s", name, lineNo, f.Name, current.Name)
			}
		}
		if isSystemField(f.Name) {
			return nil, fmt.Errorf("%s:%d: field %q clashes with a system field", name, lineNo, f.Name)
		}
		current.Fields = append(current.Fields, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return entities, nil
}

// LoadFS walks fsys from root and parses every *.dsl file into a Catalog.
func LoadFS(fsys fs.FS, root string) (*Catalog, error) {
	var all []*Entity
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(p), ".dsl") {
			return nil
		}
		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		ents, err := Parse(p, f)
		if err != nil {
			return err
		}
		all = append(all, ents...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewCatalog(all)
}

var systemFields = map[string]bool{
	"id": true, "version": true, "active": true, "created_at": true, "updated_at": true, "deleted": true,
}

func isSystemField(name string) bool { return systemFields[strings.ToLower(name)] }

// IsSystemField reports whether name is managed by the store.
func IsSystemField(name string) bool { return isSystemField(name) }
