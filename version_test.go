package mcpscope_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mcpscope/mcpscope"
)

func fullCapabilities() map[string]any {
	return map[string]any{
		"tools":     map[string]any{},
		"resources": map[string]any{},
		"prompts":   map[string]any{},
	}
}

func TestDetectKnownVersionFullyCompatible(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	info := d.Detect("2024-11-05", fullCapabilities(), nil)

	if info.SpecVersion != "1.0.0" {
		t.Errorf("spec version. Got %q, want %q", info.SpecVersion, "1.0.0")
	}
	if info.Compatibility != mcpscope.CompatFully {
		t.Errorf("compatibility. Got %q, want %q", info.Compatibility, mcpscope.CompatFully)
	}
	if info.Confidence < 0.9 {
		t.Errorf("confidence. Got %v, want >= 0.9", info.Confidence)
	}
	if len(info.Missing) != 0 {
		t.Errorf("nothing should be missing, got %v", info.Missing)
	}
	if !d.IsCompatible(info) {
		t.Error("a fully compatible server should be compatible")
	}
}

func TestDetectKnownVersionMissingOneFeature(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	caps := map[string]any{
		"tools":     map[string]any{},
		"resources": map[string]any{},
	}
	info := d.Detect("2024-11-05", caps, nil)

	if info.Compatibility != mcpscope.CompatMostly {
		t.Errorf("compatibility. Got %q, want %q", info.Compatibility, mcpscope.CompatMostly)
	}
	if !slices.Contains(info.Missing, "basic_prompts") {
		t.Errorf("missing features should name basic_prompts, got %v", info.Missing)
	}
	if info.Confidence < 0.8 {
		t.Errorf("confidence. Got %v, want >= 0.8", info.Confidence)
	}
	if !d.IsCompatible(info) {
		t.Error("one missing feature should still be compatible")
	}
}

func TestDetectKnownVersionMissingManyFeatures(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	caps := map[string]any{"tools": map[string]any{}}
	info := d.Detect("2024-11-05", caps, nil)

	if info.Compatibility != mcpscope.CompatPartially {
		t.Errorf("compatibility. Got %q, want %q", info.Compatibility, mcpscope.CompatPartially)
	}
	if d.IsCompatible(info) {
		t.Error("a partially implemented server should not be compatible")
	}
}

func TestDetectExtraFeatures(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	caps := fullCapabilities()
	caps["sampling"] = map[string]any{}
	caps["experimental"] = map[string]any{"x": true}
	info := d.Detect("2024-11-05", caps, nil)

	if info.Compatibility != mcpscope.CompatFully {
		t.Errorf("extra features must not break compatibility, got %q", info.Compatibility)
	}
	if !slices.Contains(info.Extra, "sampling_support") {
		t.Errorf("extra features should name sampling_support, got %v", info.Extra)
	}
	if !slices.Contains(info.Extra, "experimental_features") {
		t.Errorf("extra features should name experimental_features, got %v", info.Extra)
	}
}

func TestDetectMethodBasedFeatures(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	// No capability map, but the server demonstrably answers the tool methods.
	methods := []string{mcpscope.MethodToolsList, mcpscope.MethodToolsCall}
	info := d.Detect("2024-06-25", map[string]any{}, methods)

	if !slices.Contains(info.Features, "basic_tools") {
		t.Errorf("method evidence should detect basic_tools, got %v", info.Features)
	}
	if info.Compatibility != mcpscope.CompatFully {
		t.Errorf("compatibility. Got %q, want %q", info.Compatibility, mcpscope.CompatFully)
	}
}

func TestDetectUnknownVersionInference(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	info := d.Detect("2099-01-01", fullCapabilities(), nil)

	if info.Compatibility != mcpscope.CompatUnknown {
		t.Errorf("compatibility. Got %q, want %q", info.Compatibility, mcpscope.CompatUnknown)
	}
	if info.SpecVersion == "unknown" {
		t.Error("a full feature set should infer a spec version")
	}
	if info.Confidence <= 0 || info.Confidence > 0.7 {
		t.Errorf("inferred confidence must stay in (0, 0.7], got %v", info.Confidence)
	}
}

func TestDetectUnknownVersionNoCapabilities(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	info := d.Detect("2099-01-01", map[string]any{}, nil)

	if info.SpecVersion != "unknown" {
		t.Errorf("spec version. Got %q, want %q", info.SpecVersion, "unknown")
	}
	if info.Confidence != 0 {
		t.Errorf("confidence. Got %v, want 0", info.Confidence)
	}
	if info.Compatibility != mcpscope.CompatUncertain {
		t.Errorf("compatibility. Got %q, want %q", info.Compatibility, mcpscope.CompatUncertain)
	}
}

func TestCapabilityFalseDoesNotCount(t *testing.T) {
	d := mcpscope.NewVersionDetector()

	caps := map[string]any{
		"tools":     map[string]any{},
		"resources": map[string]any{"subscribe": false},
	}
	info := d.Detect("2024-11-05", caps, nil)

	if slices.Contains(info.Features, "advanced_resources") {
		t.Errorf("a false flag should not detect the feature, got %v", info.Features)
	}
	if !slices.Contains(info.Features, "basic_resources") {
		t.Errorf("the resources block itself should still count, got %v", info.Features)
	}
}

const versionTableYAML = `
"2025-06-18":
  spec_version: "2.0.0"
  features:
    - json_rpc_2.0
    - basic_tools
    - roots_support
`

func TestLoadVersionTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.yaml")
	if err := os.WriteFile(path, []byte(versionTableYAML), 0o600); err != nil {
		t.Fatalf("failed to write table: %v", err)
	}

	table, err := mcpscope.LoadVersionTable(path)
	if err != nil {
		t.Fatalf("failed to load table: %v", err)
	}

	spec, ok := table["2025-06-18"]
	if !ok {
		t.Fatalf("table missing expected version: %v", table)
	}
	if spec.SpecVersion != "2.0.0" {
		t.Errorf("spec version. Got %q, want %q", spec.SpecVersion, "2.0.0")
	}

	d := mcpscope.NewVersionDetector(mcpscope.WithVersionTable(table))
	caps := map[string]any{"tools": map[string]any{}, "roots": map[string]any{}}
	info := d.Detect("2025-06-18", caps, nil)
	if info.SpecVersion != "2.0.0" || info.Compatibility != mcpscope.CompatFully {
		t.Errorf("override table not applied: %+v", info)
	}
}

func TestVersionTableFileOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.yaml")
	if err := os.WriteFile(path, []byte(versionTableYAML), 0o600); err != nil {
		t.Fatalf("failed to write table: %v", err)
	}

	d := mcpscope.NewVersionDetector(mcpscope.WithVersionTableFile(path))
	info := d.Detect("2025-06-18", map[string]any{"tools": map[string]any{}, "roots": map[string]any{}}, nil)
	if info.SpecVersion != "2.0.0" {
		t.Errorf("file table not applied: %+v", info)
	}
}

func TestVersionTableFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.yaml")
	if err := os.WriteFile(path, []byte(versionTableYAML), 0o600); err != nil {
		t.Fatalf("failed to write table: %v", err)
	}
	t.Setenv("MCPSCOPE_VERSION_TABLE", path)

	d := mcpscope.NewVersionDetector()
	info := d.Detect("2025-06-18", map[string]any{"tools": map[string]any{}, "roots": map[string]any{}}, nil)
	if info.SpecVersion != "2.0.0" {
		t.Errorf("environment table not applied: %+v", info)
	}
}

func TestVersionTableBadFileFallsBack(t *testing.T) {
	t.Setenv("MCPSCOPE_VERSION_TABLE", filepath.Join(t.TempDir(), "missing.yaml"))

	d := mcpscope.NewVersionDetector()
	info := d.Detect("2024-11-05", fullCapabilities(), nil)
	if info.SpecVersion != "1.0.0" {
		t.Errorf("builtin table should apply after a bad override: %+v", info)
	}
}

func TestLoadVersionTableErrors(t *testing.T) {
	if _, err := mcpscope.LoadVersionTable(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte(":\n  - ["), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := mcpscope.LoadVersionTable(bad); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestVersionSummaryShape(t *testing.T) {
	d := mcpscope.NewVersionDetector()
	summary := d.Detect("2024-11-05", fullCapabilities(), nil).Summary()

	for _, key := range []string{"protocol_version", "specification_version", "compatibility", "confidence", "detected_features"} {
		if _, ok := summary[key]; !ok {
			t.Errorf("summary missing key %q: %v", key, summary)
		}
	}
}
