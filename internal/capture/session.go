// Package capture implements full-page capture: it tiles a page into
// viewport-sized screenshots under a hard capture-rate limit and
// assembles the tiles into a single outbound batch.
package capture

import (
	"fmt"

	"github.com/google/uuid"
)

// Metrics holds the page and viewport dimensions reported by a tab.
type Metrics struct {
	PageWidth      int `json:"pageWidth"`
	PageHeight     int `json:"pageHeight"`
	ViewportWidth  int `json:"viewportWidth"`
	ViewportHeight int `json:"viewportHeight"`
}

// Grid is the tile grid derived from page metrics.
type Grid struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

// Total returns the number of tiles in the grid.
func (g Grid) Total() int { return g.Columns * g.Rows }

// GridFor computes the tile grid for the given metrics:
// ceil(page/viewport) per axis, never less than 1x1.
func GridFor(m Metrics) Grid {
	return Grid{
		Columns: ceilDiv(m.PageWidth, m.ViewportWidth),
		Rows:    ceilDiv(m.PageHeight, m.ViewportHeight),
	}
}

func ceilDiv(page, viewport int) int {
	if viewport <= 0 || page <= viewport {
		return 1
	}
	n := page / viewport
	if page%viewport != 0 {
		n++
	}
	return n
}

// Tile is one captured viewport image plus its grid position.
// Tiles are immutable once appended to a session.
type Tile struct {
	Index  int    // 1-based, row-major
	Col    int    // 0-based grid column
	Row    int    // 0-based grid row
	Image  []byte // PNG bytes
	Text   string // derived descriptive text
	Hidden bool
}

// Session represents one full-page capture run.
type Session struct {
	ID      string
	TabID   int
	Metrics Metrics
	Grid    Grid
	Note    string
	Hidden  bool
	Tiles   []Tile
}

// NewSession creates a capture session for a tab with the given metrics.
func NewSession(tabID int, m Metrics, note string, hidden bool) *Session {
	return &Session{
		ID:      uuid.NewString(),
		TabID:   tabID,
		Metrics: m,
		Grid:    GridFor(m),
		Note:    note,
		Hidden:  hidden,
	}
}

// Append adds a captured tile at the given grid cell. The index is
// assigned from the append order, which the engine guarantees is
// row-major.
func (s *Session) Append(img []byte, col, row int) Tile {
	tile := Tile{
		Index:  len(s.Tiles) + 1,
		Col:    col,
		Row:    row,
		Image:  img,
		Hidden: s.Hidden,
	}
	tile.Text = TileText(s.Note, tile.Index, s.Grid.Total(), col, row)
	s.Tiles = append(s.Tiles, tile)
	return tile
}

// TileText derives the descriptive text for a tile. With a session note:
// "<note> [Tile i/n at c,r]", otherwise "Tile i/n at c,r".
func TileText(note string, index, total, col, row int) string {
	pos := fmt.Sprintf("Tile %d/%d at %d,%d", index, total, col, row)
	if note == "" {
		return pos
	}
	return fmt.Sprintf("%s [%s]", note, pos)
}
