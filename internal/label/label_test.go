package label

import (
	"errors"
	"testing"

	"github.com/nvandessel/btsynth/internal/grid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPrefix string
		wantCoord  grid.Coord
		wantErr    bool
	}{
		{"simple", "Y_2_3", "Y", grid.Coord{Row: 2, Col: 3}, false},
		{"underscore prefix", "X_0_4_1", "X_0", grid.Coord{Row: 4, Col: 1}, false},
		{"nowhere", "X_1_n_n", "X_1", grid.Nowhere, false},
		{"too few fragments", "Y_2", "", grid.Coord{}, true},
		{"no prefix", "_1_2", "", grid.Coord{}, true},
		{"bad row", "Y_a_2", "", grid.Coord{}, true},
		{"negative column", "Y_1_-2", "", grid.Coord{}, true},
		{"half nowhere", "Y_n_2", "", grid.Coord{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, c, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrLabelParse) {
					t.Fatalf("expected ErrLabelParse, got %v", err)
				}
				var pe *ParseError
				if !errors.As(err, &pe) || pe.Name != tt.input {
					t.Errorf("expected ParseError for %q, got %v", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if prefix != tt.wantPrefix || c != tt.wantCoord {
				t.Errorf("Parse(%q) = %q, %s; want %q, %s", tt.input, prefix, c, tt.wantPrefix, tt.wantCoord)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, c := range []grid.Coord{{Row: 0, Col: 0}, {Row: 12, Col: 7}, grid.Nowhere} {
		name := Format("X_3", c)
		prefix, got, err := Parse(name)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", name, err)
		}
		if prefix != "X_3" || got != c {
			t.Errorf("round trip of %s via %q gave %q %s", c, name, prefix, got)
		}
	}
	if got := Nowhere("Y"); got != "Y_n_n" {
		t.Errorf("Nowhere(Y) = %q", got)
	}
}

func TestExtract(t *testing.T) {
	state := map[string]bool{
		"Y_0_0":   false,
		"Y_1_2":   true,
		"X_0_1_1": true,
		"X_0_1_2": false,
		"goal":    true,
	}
	c, found, err := Extract(state, "Y")
	if err != nil || !found || c != (grid.Coord{Row: 1, Col: 2}) {
		t.Errorf("Extract(Y) = %s, %v, %v", c, found, err)
	}
	c, found, err = Extract(state, "X_0")
	if err != nil || !found || c != (grid.Coord{Row: 1, Col: 1}) {
		t.Errorf("Extract(X_0) = %s, %v, %v", c, found, err)
	}
	_, found, err = Extract(state, "X_1")
	if err != nil || found {
		t.Errorf("expected no X_1 position, got found=%v err=%v", found, err)
	}
}

func TestExtractMutexViolation(t *testing.T) {
	state := map[string]bool{"Y_0_0": true, "Y_0_1": true}
	_, _, err := Extract(state, "Y")
	if !errors.Is(err, ErrMutexViolation) {
		t.Errorf("expected ErrMutexViolation, got %v", err)
	}
	cs, err := Positions(state, "Y")
	if err != nil || len(cs) != 2 {
		t.Errorf("Positions should report both coordinates, got %v, %v", cs, err)
	}
}

func TestExtractMalformed(t *testing.T) {
	state := map[string]bool{"Y_x_0": true}
	if _, _, err := Extract(state, "Y"); !errors.Is(err, ErrLabelParse) {
		t.Errorf("expected ErrLabelParse, got %v", err)
	}
}

func TestShift(t *testing.T) {
	got, err := Shift("X_0_1_2", grid.Coord{Row: 3, Col: 4})
	if err != nil || got != "X_0_4_6" {
		t.Errorf("Shift = %q, %v", got, err)
	}
	got, err = Shift("X_0_n_n", grid.Coord{Row: 3, Col: 4})
	if err != nil || got != "X_0_n_n" {
		t.Errorf("Shift(nowhere) = %q, %v", got, err)
	}
	if _, err := Shift("goal", grid.Coord{}); err == nil {
		t.Error("expected error shifting a non-locative name")
	}
}

func TestGroups(t *testing.T) {
	if !HasPrefix("X_0_1_1", "X_0") || HasPrefix("X_0_1_1", "X") {
		t.Error("HasPrefix must compare the whole prefix")
	}
	if !InGroup("X_0_1_1", "X") || InGroup("Y_1_1", "X") {
		t.Error("InGroup mismatch")
	}
	if EnvPrefix("X", 2) != "X_2" {
		t.Error("EnvPrefix mismatch")
	}
}
