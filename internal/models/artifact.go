package models

import "time"

// UnitTestArtifact is the canonical normalized form of an LLM test response.
type UnitTestArtifact struct {
	TestCode          string   `json:"testCode"`
	Explanation       string   `json:"explanation"`
	TestCases         []string `json:"testCases"`
	Dependencies      []string `json:"dependencies"`
	SetupInstructions string   `json:"setupInstructions"`
}

// ArtifactRecord is a persisted artifact along with where it came from.
type ArtifactRecord struct {
	ID         string
	SourcePath string
	TestPath   string
	Kind       string
	Artifact   UnitTestArtifact
	CreatedAt  time.Time
}

// Artifact kinds.
const (
	ArtifactGenerated = "generated"
	ArtifactFixed     = "fixed"
)
