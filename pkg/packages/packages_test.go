package packages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/beep-python/host/pkg/model"
)

func TestClassifyPipSuccess(t *testing.T) {
	out := "Collecting requests\nInstalling collected packages: requests\nSuccessfully installed requests-2.31.0\n"
	c := classify(out, false)
	if !c.success || c.ambiguous {
		t.Errorf("classify() = %+v, want success", c)
	}
}

func TestClassifyPipAlreadySatisfied(t *testing.T) {
	out := "Requirement already satisfied: requests in /usr/lib/python3/dist-packages\n"
	c := classify(out, false)
	if !c.success {
		t.Errorf("classify() = %+v, want success (already satisfied)", c)
	}
}

func TestClassifyPipError(t *testing.T) {
	out := "Collecting nonexistent-package-xyz\nERROR: Could not find a version that satisfies the requirement nonexistent-package-xyz\n"
	c := classify(out, false)
	if c.success {
		t.Errorf("classify() = %+v, want failure", c)
	}
	if c.ambiguous {
		t.Error("classify() marked a clear ERROR line as ambiguous")
	}
}

func TestClassifyAmbiguousOutputIsWarning(t *testing.T) {
	out := "some unrelated tool chatter\nnothing conclusive here\n"
	c := classify(out, false)
	if c.success || !c.ambiguous {
		t.Errorf("classify() = %+v, want ambiguous warning", c)
	}
}

func TestClassifyCondaSuccess(t *testing.T) {
	out := "Solving environment: done\nPreparing transaction: done\nExecuting transaction: done\n"
	c := classify(out, true)
	if !c.success {
		t.Errorf("classify(conda) = %+v, want success", c)
	}
}

func TestClassifyCondaError(t *testing.T) {
	out := "PackagesNotFoundError: The following packages are not available\n"
	c := classify(out, true)
	if c.success {
		t.Errorf("classify(conda) = %+v, want failure", c)
	}
}

func TestParseFreezeOutputPip(t *testing.T) {
	out := "requests==2.31.0\nnumpy==1.26.0\n# a comment\n\n"
	records := parseFreezeOutput(out, false)
	if len(records) != 2 {
		t.Fatalf("parseFreezeOutput() = %v, want 2 records", records)
	}
	if records[0].Name != "requests" || records[0].Version != "2.31.0" {
		t.Errorf("record 0 = %+v", records[0])
	}
}

func TestParseFreezeOutputConda(t *testing.T) {
	out := "# packages in environment\nnumpy                     1.26.0          py311\n"
	records := parseFreezeOutput(out, true)
	if len(records) != 1 || records[0].Name != "numpy" {
		t.Fatalf("parseFreezeOutput(conda) = %v", records)
	}
}

func TestParseFreezeOutputPipExactSet(t *testing.T) {
	out := "requests==2.31.0\nnumpy==1.26.0\n"
	want := []model.PackageRecord{
		{Name: "requests", Version: "2.31.0"},
		{Name: "numpy", Version: "1.26.0"},
	}
	got := parseFreezeOutput(out, false)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseFreezeOutput() mismatch (-want +got):\n%s", diff)
	}
}

func TestConstraintOperatorDetectsRangeSpecs(t *testing.T) {
	cases := map[string]string{
		">=1.24,<2.0": ">=",
		"==2.31.0":    "==",
		"2.31.0":      "",
		"":            "",
	}
	for spec, want := range cases {
		if got := constraintOperator(spec); got != want {
			t.Errorf("constraintOperator(%q) = %q, want %q", spec, got, want)
		}
	}
}

func TestCommandLabelRendersEffectivePipInvocation(t *testing.T) {
	args := []string{"/opt/py/venvs/default/bin/python", "-m", "pip", "install", "requests==2.31.0"}
	if got, want := commandLabel(args, false), "pip install requests==2.31.0"; got != want {
		t.Errorf("commandLabel() = %q, want %q", got, want)
	}
}

func TestCommandLabelRendersEffectiveCondaInvocation(t *testing.T) {
	args := []string{"/usr/bin/conda", "install", "-y", "numpy"}
	if got, want := commandLabel(args, true), "conda install -y numpy"; got != want {
		t.Errorf("commandLabel() = %q, want %q", got, want)
	}
}

func TestInstallProfilesResolvesUnknownProfile(t *testing.T) {
	m := New("/usr/bin/python3", "")
	_, err := m.InstallProfiles(context.Background(), map[string][]model.PackageRequirement{
		"base": {{Name: "requests", Source: model.SourcePip}},
	}, []string{"does-not-exist"}, nil)
	if err == nil {
		t.Fatal("InstallProfiles() error = nil, want NotInitialized for unknown profile")
	}
}

func TestLoadProfilesFromPyprojectDecodesTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")
	content := `
[tool.beep-python.profiles]
base = [{ name = "requests", version = "2.31.0", source = "pip" }]
science = [{ name = "numpy", source = "conda" }]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	profiles, found, err := LoadProfilesFromPyproject(path)
	if err != nil {
		t.Fatalf("LoadProfilesFromPyproject() error = %v", err)
	}
	if !found {
		t.Fatal("LoadProfilesFromPyproject() found = false, want true")
	}
	if len(profiles["base"]) != 1 || profiles["base"][0].Name != "requests" {
		t.Errorf("profiles[base] = %+v", profiles["base"])
	}
	if profiles["science"][0].Source != model.SourceConda {
		t.Errorf("profiles[science][0].Source = %v, want conda", profiles["science"][0].Source)
	}
}

func TestLoadProfilesFromPyprojectAbsentTableReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")
	if err := os.WriteFile(path, []byte("[tool.other]\nx = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, found, err := LoadProfilesFromPyproject(path)
	if err != nil {
		t.Fatalf("LoadProfilesFromPyproject() error = %v", err)
	}
	if found {
		t.Error("LoadProfilesFromPyproject() found = true, want false (no beep-python table)")
	}
}

func TestLoadProfilesFromPyprojectMissingFileReturnsNotFound(t *testing.T) {
	_, found, err := LoadProfilesFromPyproject("/no/such/pyproject.toml")
	if err != nil {
		t.Fatalf("LoadProfilesFromPyproject() error = %v", err)
	}
	if found {
		t.Error("LoadProfilesFromPyproject() found = true, want false for missing file")
	}
}
