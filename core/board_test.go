package core

import "testing"

func TestParseSnapshot(t *testing.T) {
	testCases := []struct {
		name          string
		raw           string
		wantElements  int
		wantRecovered bool
	}{
		{"empty payload", "", 0, false},
		{"blank record", "{}", 0, false},
		{"null elements", `{"elements":null}`, 0, false},
		{"empty elements", `{"elements":[]}`, 0, false},
		{"one element", `{"elements":[{"id":"r1","version":1}]}`, 1, false},
		{"full snapshot", `{"elements":[{"id":"r1","version":2}],"viewState":{"zoom":1.5},"files":{"f1":{"id":"f1","mimeType":"image/png","dataURL":"data:","created":1}}}`, 1, false},
		{"not json", "ceci n'est pas du json", 0, true},
		{"elements not an array", `{"elements":{"r1":{}}}`, 0, true},
		{"legacy schema", `{"shapes":[{"kind":"arrow"}],"paper":"a4"}`, 0, true},
		{"top-level array", `[{"id":"r1"}]`, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			snapshot, recovered := ParseSnapshot([]byte(tc.raw))
			if recovered != tc.wantRecovered {
				t.Errorf("recovered mismatch: got %v, want %v", recovered, tc.wantRecovered)
			}
			if len(snapshot.Elements) != tc.wantElements {
				t.Errorf("element count mismatch: got %d, want %d", len(snapshot.Elements), tc.wantElements)
			}
		})
	}
}

func TestParseSnapshot_PreservesViewStateAndFiles(t *testing.T) {
	raw := `{"elements":[],"viewState":{"backgroundColor":"#fafafa","zoom":0.75,"scrollX":-10,"scrollY":40,"gridSize":20},"files":{"f1":{"id":"f1","mimeType":"image/jpeg","dataURL":"data:image/jpeg;base64,AAAA","created":1700000000000}}}`

	snapshot, recovered := ParseSnapshot([]byte(raw))
	if recovered {
		t.Fatal("well-formed snapshot flagged as recovered")
	}
	if snapshot.ViewState.BackgroundColor != "#fafafa" || snapshot.ViewState.GridSize != 20 {
		t.Errorf("view state mismatch: %+v", snapshot.ViewState)
	}
	file, ok := snapshot.Files["f1"]
	if !ok || file.MimeType != "image/jpeg" || file.Created != 1700000000000 {
		t.Errorf("files mismatch: %+v", snapshot.Files)
	}
}
