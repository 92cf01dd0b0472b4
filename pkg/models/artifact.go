package models

// ArtifactType classifies a step's durable output.
type ArtifactType string

const (
	ArtifactFile ArtifactType = "file"
	ArtifactURL  ArtifactType = "url"
	ArtifactText ArtifactType = "text"
	ArtifactData ArtifactType = "data"
)

// Artifact is a durable output produced by a successful step execution.
type Artifact struct {
	Type     ArtifactType   `json:"type"`
	Path     string         `json:"path,omitempty"`
	URL      string         `json:"url,omitempty"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
