package capture

import "testing"

func TestGridFor(t *testing.T) {
	tests := []struct {
		name string
		m    Metrics
		cols int
		rows int
	}{
		{"single viewport", Metrics{1920, 1000, 1920, 1000}, 1, 1},
		{"tall page", Metrics{1920, 3000, 1920, 1000}, 1, 3},
		{"tall page uneven", Metrics{1920, 3001, 1920, 1000}, 1, 4},
		{"wide page", Metrics{4000, 900, 1920, 1000}, 3, 1},
		{"both axes", Metrics{3840, 2500, 1920, 1000}, 2, 3},
		{"page smaller than viewport", Metrics{800, 600, 1920, 1000}, 1, 1},
		{"zero viewport", Metrics{1920, 3000, 0, 0}, 1, 1},
		{"zero page", Metrics{0, 0, 1920, 1000}, 1, 1},
		{"exact multiple", Metrics{1920, 2000, 1920, 1000}, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GridFor(tt.m)
			if g.Columns != tt.cols || g.Rows != tt.rows {
				t.Errorf("got %dx%d, want %dx%d", g.Columns, g.Rows, tt.cols, tt.rows)
			}
		})
	}
}

func TestGridTotal(t *testing.T) {
	g := Grid{Columns: 2, Rows: 3}
	if g.Total() != 6 {
		t.Errorf("got %d, want 6", g.Total())
	}
}

func TestTileText(t *testing.T) {
	tests := []struct {
		name  string
		note  string
		index int
		total int
		col   int
		row   int
		want  string
	}{
		{"no note", "", 1, 1, 0, 0, "Tile 1/1 at 0,0"},
		{"with note", "hi", 1, 1, 0, 0, "hi [Tile 1/1 at 0,0]"},
		{"mid grid", "", 4, 6, 1, 1, "Tile 4/6 at 1,1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TileText(tt.note, tt.index, tt.total, tt.col, tt.row)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionAppend(t *testing.T) {
	s := NewSession(7, Metrics{1920, 3000, 1920, 1000}, "", false)
	if s.ID == "" {
		t.Fatal("session has no id")
	}
	if s.Grid.Total() != 3 {
		t.Fatalf("grid total = %d, want 3", s.Grid.Total())
	}

	img := []byte{0x89, 0x50}
	for row := 0; row < 3; row++ {
		s.Append(img, 0, row)
	}

	for i, tile := range s.Tiles {
		if tile.Index != i+1 {
			t.Errorf("tile %d has index %d", i, tile.Index)
		}
		if tile.Row != i || tile.Col != 0 {
			t.Errorf("tile %d at %d,%d", i, tile.Col, tile.Row)
		}
	}
	if s.Tiles[0].Text != "Tile 1/3 at 0,0" {
		t.Errorf("tile text = %q", s.Tiles[0].Text)
	}
}

func TestSessionAppendHidden(t *testing.T) {
	s := NewSession(1, Metrics{100, 100, 200, 200}, "secret", true)
	tile := s.Append(nil, 0, 0)
	if !tile.Hidden {
		t.Error("tile should inherit the session hidden flag")
	}
	if tile.Text != "secret [Tile 1/1 at 0,0]" {
		t.Errorf("tile text = %q", tile.Text)
	}
}
