package packages

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/beep-python/host/pkg/model"
)

// pyprojectDocument mirrors just the [tool.beep-python.profiles] table this
// host understands; everything else in a pyproject.toml is decoded but
// ignored, so unrelated tables never cause a parse failure.
type pyprojectDocument struct {
	Tool struct {
		BeepPython struct {
			Profiles map[string][]pyprojectRequirement `toml:"profiles"`
		} `toml:"beep-python"`
	} `toml:"tool"`
}

type pyprojectRequirement struct {
	Name        string `toml:"name"`
	VersionSpec string `toml:"version"`
	Source      string `toml:"source"`
	IndexURL    string `toml:"index_url"`
}

// LoadProfilesFromPyproject detects and decodes [tool.beep-python.profiles]
// from a pyproject.toml, returning (nil, false, nil) if the table is absent
// so callers can fall back to the canonical JSON profile document.
func LoadProfilesFromPyproject(path string) (map[string][]model.PackageRequirement, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc pyprojectDocument
	meta, err := toml.Decode(string(content), &doc)
	if err != nil {
		return nil, false, fmt.Errorf("parsing %s: %w", path, err)
	}
	if !meta.IsDefined("tool", "beep-python", "profiles") {
		return nil, false, nil
	}

	out := make(map[string][]model.PackageRequirement, len(doc.Tool.BeepPython.Profiles))
	for name, reqs := range doc.Tool.BeepPython.Profiles {
		converted := make([]model.PackageRequirement, 0, len(reqs))
		for _, r := range reqs {
			source := model.SourcePip
			switch r.Source {
			case "conda":
				source = model.SourceConda
			case "local-wheel":
				source = model.SourceLocalWheel
			}
			converted = append(converted, model.PackageRequirement{
				Name:        r.Name,
				VersionSpec: r.VersionSpec,
				IndexURL:    r.IndexURL,
				Source:      source,
			})
		}
		out[name] = converted
	}
	return out, true, nil
}
