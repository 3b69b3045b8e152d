package reference

// SeedFile is one YAML file of reference data. A file carries either records
// for a single entity or role grants.
type SeedFile struct {
	Entity  string           `yaml:"entity"`
	Records []map[string]any `yaml:"records"`
	Roles   []RoleGrants     `yaml:"roles"`
}

// RoleGrants lists the actions a role holds per module.
type RoleGrants struct {
	Role   string              `yaml:"role"`
	Grants map[string][]string `yaml:"grants"`
}

// Seed is the record set of one entity.
type Seed struct {
	Entity  string
	Source  string
	Records []map[string]any
}

// Bundle is everything read from a reference directory.
type Bundle struct {
	Seeds []Seed
	Roles []RoleGrants
}
