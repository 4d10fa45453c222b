package manifest

import "fmt"

// Names are the three partition names of one deployment:
// {app}-static-v{N}, {app}-dynamic-v{N}, {app}-images-v{N}.
type Names struct {
	Static  string
	Dynamic string
	Image   string
}

// NewNames builds the partition names for app at version.
func NewNames(app, version string) Names {
	return Names{
		Static:  fmt.Sprintf("%s-static-v%s", app, version),
		Dynamic: fmt.Sprintf("%s-dynamic-v%s", app, version),
		Image:   fmt.Sprintf("%s-images-v%s", app, version),
	}
}

// All returns every current partition name.
func (n Names) All() []string {
	return []string{n.Static, n.Dynamic, n.Image}
}

// Contains reports whether name belongs to this deployment. The match is an
// exact string comparison.
func (n Names) Contains(name string) bool {
	return name == n.Static || name == n.Dynamic || name == n.Image
}
