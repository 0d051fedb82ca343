package models

import "time"

// FactKind tags one structural fact extracted from a source file.
type FactKind string

const (
	FactImport        FactKind = "import"
	FactMethod        FactKind = "method"
	FactField         FactKind = "field"
	FactStatefulField FactKind = "stateful_field"
	FactDerivedField  FactKind = "derived_field"
	FactNestedType    FactKind = "nested_type"
	FactDependency    FactKind = "dependency"
	FactTemplate      FactKind = "template"
	FactStyle         FactKind = "style"
)

// Fact is a single tagged structural fact. Value holds the name, or the full
// text for nested types.
type Fact struct {
	Kind  FactKind `json:"kind"`
	Value string   `json:"value"`
}

// ComponentDescriptor is the structural summary of one scanned component file.
// It is produced once per scan and never mutated afterwards.
type ComponentDescriptor struct {
	Name           string   `json:"name"`
	Selector       string   `json:"selector"`
	Standalone     bool     `json:"isStandalone"`
	Imports        []string `json:"imports"`
	Methods        []string `json:"methods"`
	Fields         []string `json:"fields"`
	StatefulFields []string `json:"statefulFields"`
	DerivedFields  []string `json:"derivedFields"`
	NestedTypes    []string `json:"nestedTypes"`
	Dependencies   []string `json:"dependencies"`
	TemplateURL    string   `json:"templateUrl,omitempty"`
	StyleURLs      []string `json:"styleUrls,omitempty"`
	FilePath       string   `json:"filePath"`
	Facts          []Fact   `json:"facts,omitempty"`
}

// FactsOf returns the values of all facts with the given kind, in order.
func (d *ComponentDescriptor) FactsOf(kind FactKind) []string {
	var out []string
	for _, f := range d.Facts {
		if f.Kind == kind {
			out = append(out, f.Value)
		}
	}
	return out
}

// ScanError records a per-file (or fatal root) scan failure.
type ScanError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ScanError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ScanResult holds the outcome of one scan invocation.
type ScanResult struct {
	Descriptors  []*ComponentDescriptor `json:"components"`
	TotalFiles   int                    `json:"totalFiles"`
	ScannedFiles int                    `json:"scannedFiles"`
	Errors       []ScanError            `json:"errors"`
	ScanTime     time.Duration          `json:"-"`
	ScanTimeMs   int64                  `json:"scanTimeMs"`
}
