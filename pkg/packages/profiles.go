package packages

import (
	"github.com/beep-python/host/internal/atomicio"
	"github.com/beep-python/host/internal/bplog"
	"github.com/beep-python/host/internal/home"
	"github.com/beep-python/host/pkg/model"
)

// LoadProfiles loads the canonical package-requirements.json document under
// layout, then folds in any profiles found in a pyproject.toml at
// pyprojectPath (if non-empty), with pyproject entries overriding same-named
// JSON profiles since they represent the more recently authored source.
func LoadProfiles(log *bplog.Logger, layout home.Layout, pyprojectPath string) (map[string][]model.PackageRequirement, error) {
	var doc model.PackageRequirementsDocument
	if _, err := atomicio.ReadJSON(log, layout.PackageRequirementsDocument(), &doc); err != nil {
		return nil, err
	}

	out := make(map[string][]model.PackageRequirement, len(doc.Profiles))
	for name, reqs := range doc.Profiles {
		out[name] = reqs
	}

	if pyprojectPath != "" {
		fromToml, found, err := LoadProfilesFromPyproject(pyprojectPath)
		if err != nil {
			return nil, err
		}
		if found {
			for name, reqs := range fromToml {
				out[name] = reqs
			}
		}
	}

	return out, nil
}
