package browser

import (
	"context"
	"testing"
)

func TestClickRequiresTarget(t *testing.T) {
	// A tab with no live page: the guard has to reject the call before
	// any page work happens.
	tab := &Tab{id: 1}

	tests := []struct {
		name string
		x, y *int
	}{
		{"no selector, no coords", nil, nil},
		{"only x", intPtr(10), nil},
		{"only y", nil, intPtr(20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tab.Click(context.Background(), "", tt.x, tt.y)
			if err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func intPtr(v int) *int { return &v }
