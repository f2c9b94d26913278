package core

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

type (
	// Element is the slice of a drawable element this engine cares about.
	// Geometry, styling and everything else the drawing surface tracks
	// stays opaque inside Props.
	Element struct {
		ID        string         `json:"id"`
		Version   int64          `json:"version"`
		IsDeleted bool           `json:"isDeleted,omitempty"`
		Props     map[string]any `json:"props,omitempty"`
	}

	// ViewState is the subset of the drawing surface's app state that is
	// worth persisting. It is a projection, not the surface's full state.
	ViewState struct {
		BackgroundColor string  `json:"backgroundColor,omitempty"`
		Zoom            float64 `json:"zoom,omitempty"`
		ScrollX         float64 `json:"scrollX,omitempty"`
		ScrollY         float64 `json:"scrollY,omitempty"`
		GridSize        int     `json:"gridSize,omitempty"`
	}

	// BinaryFile is an image pasted directly onto the canvas, stored
	// inline with the snapshot.
	BinaryFile struct {
		ID       string `json:"id"`
		MimeType string `json:"mimeType"`
		DataURL  string `json:"dataURL"`
		Created  int64  `json:"created"`
	}

	// Snapshot is the unit of persistence: the complete serializable
	// state of a board at one point in time. A Snapshot with no elements
	// is a valid blank board; "not yet loaded" is a nil *Snapshot.
	Snapshot struct {
		Elements  []Element             `json:"elements"`
		ViewState ViewState             `json:"viewState,omitempty"`
		Files     map[string]BinaryFile `json:"files,omitempty"`
	}

	// BoardRecord is the durable envelope. Exactly one exists per project,
	// created implicitly on first access.
	BoardRecord struct {
		ProjectID string    `json:"projectId"`
		Snapshot  Snapshot  `json:"snapshot"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`

		// Recovered is set when the stored payload was not a recognized
		// snapshot shape and was loaded as a blank board instead.
		Recovered bool `json:"-"`
	}

	// BoardStore defines the persistence layer for board records. All
	// implementations are subject to the platform's access policy and
	// surface ErrAccessDenied rather than swallowing it.
	BoardStore interface {
		// GetOrCreate fetches the record for a project, creating it with
		// a blank snapshot if none exists yet.
		GetOrCreate(ctx context.Context, projectID string) (*BoardRecord, error)

		// Save upserts the snapshot for a project. Last write wins; the
		// store performs no merge.
		Save(ctx context.Context, projectID string, snapshot Snapshot) (*BoardRecord, error)
	}
)

// ParseSnapshot decodes a stored snapshot payload. Payloads that are empty
// or not the expected shape (a legacy canvas format, for instance) load as
// a blank board with recovered=true instead of erroring. Full-format
// migration was deliberately left out; see the board store docs.
func ParseSnapshot(raw []byte) (Snapshot, bool) {
	if len(raw) == 0 {
		return Snapshot{}, false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Snapshot{}, true
	}

	elements, ok := probe["elements"]
	if !ok {
		if len(probe) == 0 {
			// "{}": the blank record written on first access.
			return Snapshot{}, false
		}
		// Keys but no elements: some other schema entirely.
		return Snapshot{}, true
	}

	trimmed := bytes.TrimSpace(elements)
	if string(trimmed) == "null" {
		return Snapshot{}, false
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Snapshot{}, true
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, true
	}
	return snapshot, false
}
