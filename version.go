package mcpscope

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// featureJSONRPC is the foundational feature every MCP server carries by
// virtue of speaking the wire protocol at all. It is always counted as
// detected.
const featureJSONRPC = "json_rpc_2.0"

// VersionSpec describes one known protocol revision: the marketing-level
// specification version it maps to and the features a conforming server of
// that revision is expected to expose.
type VersionSpec struct {
	SpecVersion string   `yaml:"spec_version"`
	Features    []string `yaml:"features"`
}

// builtinVersionTable maps protocol date strings to their expected feature
// sets. Only features the detector can actually observe on the wire are
// listed.
var builtinVersionTable = map[string]VersionSpec{
	"2024-11-05": {
		SpecVersion: "1.0.0",
		Features:    []string{featureJSONRPC, "basic_tools", "basic_resources", "basic_prompts"},
	},
	"2024-10-07": {
		SpecVersion: "0.9.0",
		Features:    []string{featureJSONRPC, "basic_tools", "basic_resources"},
	},
	"2024-06-25": {
		SpecVersion: "0.8.0",
		Features:    []string{featureJSONRPC, "basic_tools"},
	},
}

// featurePattern describes how a feature is recognized: either a capability
// key (dotted path into the capability map) or a set of methods that must all
// be advertised.
type featurePattern struct {
	capabilityPaths []string
	requiredMethods []string
}

var featurePatterns = map[string]featurePattern{
	"basic_tools": {
		capabilityPaths: []string{"tools"},
		requiredMethods: []string{MethodToolsList, MethodToolsCall},
	},
	"basic_resources": {
		capabilityPaths: []string{"resources"},
		requiredMethods: []string{MethodResourcesList, MethodResourcesRead},
	},
	"basic_prompts": {
		capabilityPaths: []string{"prompts"},
		requiredMethods: []string{MethodPromptsList, MethodPromptsGet},
	},
	"advanced_resources": {
		capabilityPaths: []string{"resources.subscribe", "resources.listChanged"},
	},
	"sampling_support": {
		capabilityPaths: []string{"sampling"},
	},
	"experimental_features": {
		capabilityPaths: []string{"experimental"},
	},
	"roots_support": {
		capabilityPaths: []string{"roots"},
	},
}

// Compatibility verdicts reported by the detector.
const (
	CompatFully     = "fully_compatible"
	CompatMostly    = "mostly_compatible"
	CompatPartially = "partially_compatible"
	CompatUnknown   = "unknown_version"
	CompatUncertain = "uncertain"
)

// VersionInfo is the outcome of version detection for one server.
type VersionInfo struct {
	ProtocolVersion string
	SpecVersion     string
	Confidence      float64
	Compatibility   string
	Features        []string
	Missing         []string
	Extra           []string
}

// Summary flattens the detection outcome into a display-friendly map.
func (v VersionInfo) Summary() map[string]any {
	return map[string]any{
		"protocol_version":      v.ProtocolVersion,
		"specification_version": v.SpecVersion,
		"compatibility":         v.Compatibility,
		"confidence":            v.Confidence,
		"detected_features":     append([]string(nil), v.Features...),
		"missing_features":      append([]string(nil), v.Missing...),
		"extra_features":        append([]string(nil), v.Extra...),
	}
}

// VersionDetector infers which MCP revision a server implements from the
// protocol version string and capability set it reports. All methods are
// pure; a detector carries no per-connection state and is safe to share.
type VersionDetector struct {
	table  map[string]VersionSpec
	logger *slog.Logger
}

// VersionDetectorOption configures a VersionDetector.
type VersionDetectorOption func(*VersionDetector)

// WithVersionTable replaces the built-in version table.
func WithVersionTable(table map[string]VersionSpec) VersionDetectorOption {
	return func(d *VersionDetector) {
		d.table = table
	}
}

// WithVersionTableFile loads the version table from a YAML file. An unusable
// file is logged and ignored so the detector still works with its built-in
// table.
func WithVersionTableFile(path string) VersionDetectorOption {
	return func(d *VersionDetector) {
		table, err := LoadVersionTable(path)
		if err != nil {
			d.logger.Warn("ignoring version table file", "path", path, "err", err)
			return
		}
		d.table = table
	}
}

// WithVersionDetectorLogger sets the logger for the detector.
func WithVersionDetectorLogger(logger *slog.Logger) VersionDetectorOption {
	return func(d *VersionDetector) {
		d.logger = logger
	}
}

// NewVersionDetector creates a detector. Without an explicit table it checks
// the MCPSCOPE_VERSION_TABLE environment variable for a YAML override file
// and falls back to the built-in table, logging rather than failing when the
// override cannot be read.
func NewVersionDetector(options ...VersionDetectorOption) *VersionDetector {
	d := &VersionDetector{logger: slog.Default()}
	for _, opt := range options {
		opt(d)
	}

	if d.table == nil {
		if path := os.Getenv("MCPSCOPE_VERSION_TABLE"); path != "" {
			table, err := LoadVersionTable(path)
			if err != nil {
				d.logger.Warn("ignoring version table override", "path", path, "err", err)
			} else {
				d.table = table
			}
		}
	}
	if d.table == nil {
		d.table = builtinVersionTable
	}

	return d
}

// LoadVersionTable reads a YAML version table mapping protocol version
// strings to their spec version and expected features.
func LoadVersionTable(path string) (map[string]VersionSpec, error) {
	clean, err := sanitizePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, validationErrorf(err, "cannot read version table %s", clean)
	}

	var table map[string]VersionSpec
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, validationErrorf(err, "malformed version table %s", clean)
	}
	if len(table) == 0 {
		return nil, validationErrorf(nil, "version table %s is empty", clean)
	}
	return table, nil
}

// Detect classifies a server from its self-reported protocol version, its
// capability map, and optionally the methods it is known to answer. Feature
// detection is capability-first; methods only strengthen the evidence.
func (d *VersionDetector) Detect(protocolVersion string, capabilities map[string]any, methods []string) VersionInfo {
	detected := detectFeatures(capabilities, methods)

	spec, known := d.table[protocolVersion]
	if known {
		return d.classifyKnown(protocolVersion, spec, detected)
	}
	return d.inferUnknown(protocolVersion, detected)
}

func (d *VersionDetector) classifyKnown(protocolVersion string, spec VersionSpec, detected map[string]bool) VersionInfo {
	var missing, matched []string
	for _, feature := range spec.Features {
		if detected[feature] {
			matched = append(matched, feature)
		} else {
			missing = append(missing, feature)
		}
	}

	expected := make(map[string]bool, len(spec.Features))
	for _, feature := range spec.Features {
		expected[feature] = true
	}
	var extra []string
	for feature := range detected {
		if !expected[feature] {
			extra = append(extra, feature)
		}
	}

	overlap := float64(len(matched)) / float64(len(spec.Features))
	confidence := overlap
	if overlap >= 0.7 && confidence < 0.8 {
		confidence = 0.8
	}

	compatibility := CompatPartially
	switch {
	case len(missing) == 0:
		compatibility = CompatFully
	case len(missing) == 1:
		compatibility = CompatMostly
	}

	return VersionInfo{
		ProtocolVersion: protocolVersion,
		SpecVersion:     spec.SpecVersion,
		Confidence:      confidence,
		Compatibility:   compatibility,
		Features:        sortedFeatures(detected),
		Missing:         sortedSlice(missing),
		Extra:           sortedSlice(extra),
	}
}

// inferUnknown scores every known revision against the detected features and
// reports the closest match. A server that exposed nothing beyond the wire
// protocol itself gives no signal to score, so it stays uncertain.
func (d *VersionDetector) inferUnknown(protocolVersion string, detected map[string]bool) VersionInfo {
	info := VersionInfo{
		ProtocolVersion: protocolVersion,
		SpecVersion:     "unknown",
		Confidence:      0,
		Compatibility:   CompatUncertain,
		Features:        sortedFeatures(detected),
	}
	if len(detected) <= 1 {
		return info
	}

	bestScore := 0.0
	for _, spec := range d.table {
		score := scoreAgainst(spec, detected)
		if score > bestScore {
			bestScore = score
			info.SpecVersion = spec.SpecVersion
			info.Missing = missingFrom(spec, detected)
		}
	}
	if bestScore <= 0 {
		return info
	}

	if bestScore > 0.7 {
		bestScore = 0.7
	}
	info.Confidence = bestScore
	info.Compatibility = CompatUnknown
	return info
}

func scoreAgainst(spec VersionSpec, detected map[string]bool) float64 {
	matched := 0
	for _, feature := range spec.Features {
		if detected[feature] {
			matched++
		}
	}
	missing := len(spec.Features) - matched
	extra := 0
	expected := make(map[string]bool, len(spec.Features))
	for _, feature := range spec.Features {
		expected[feature] = true
	}
	for feature := range detected {
		if !expected[feature] {
			extra++
		}
	}

	score := float64(matched)/float64(len(spec.Features)) -
		float64(missing)*0.1 +
		float64(extra)*0.05
	if score < 0 {
		score = 0
	}
	return score
}

func missingFrom(spec VersionSpec, detected map[string]bool) []string {
	var missing []string
	for _, feature := range spec.Features {
		if !detected[feature] {
			missing = append(missing, feature)
		}
	}
	return sortedSlice(missing)
}

// IsCompatible reports whether a detected server is expected to work with
// this client.
func (d *VersionDetector) IsCompatible(info VersionInfo) bool {
	return info.Compatibility == CompatFully || info.Compatibility == CompatMostly
}

// detectFeatures evaluates every known feature pattern against the capability
// map and, when supplied, the advertised method list. The wire protocol
// itself always counts as detected.
func detectFeatures(capabilities map[string]any, methods []string) map[string]bool {
	detected := map[string]bool{featureJSONRPC: true}

	methodSet := make(map[string]bool, len(methods))
	for _, m := range methods {
		methodSet[m] = true
	}

	for feature, pattern := range featurePatterns {
		for _, path := range pattern.capabilityPaths {
			if capabilityPresent(capabilities, path) {
				detected[feature] = true
				break
			}
		}
		if detected[feature] || len(pattern.requiredMethods) == 0 || len(methods) == 0 {
			continue
		}
		all := true
		for _, m := range pattern.requiredMethods {
			if !methodSet[m] {
				all = false
				break
			}
		}
		if all {
			detected[feature] = true
		}
	}

	return detected
}

// capabilityPresent walks a dotted path into nested capability maps. A key
// holding nil or false does not count as present.
func capabilityPresent(capabilities map[string]any, path string) bool {
	current := any(capabilities)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current, ok = m[part]
		if !ok {
			return false
		}
	}

	switch v := current.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

func sortedFeatures(set map[string]bool) []string {
	features := make([]string, 0, len(set))
	for feature := range set {
		features = append(features, feature)
	}
	sort.Strings(features)
	return features
}

func sortedSlice(s []string) []string {
	sort.Strings(s)
	return s
}

// DescribeVersion renders a one-line human summary of a detection outcome.
func DescribeVersion(info VersionInfo) string {
	return fmt.Sprintf("protocol %s (spec %s, %s, confidence %.2f)",
		info.ProtocolVersion, info.SpecVersion, info.Compatibility, info.Confidence)
}
