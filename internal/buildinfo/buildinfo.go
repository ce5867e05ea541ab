package buildinfo

// Set via -ldflags at release time.
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// String renders the version line shown by the CLI.
func String() string {
	s := Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	if BuiltAt != "" {
		s += " built " + BuiltAt
	}
	return s
}
