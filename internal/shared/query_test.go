package shared

import (
	"testing"

	"github.com/containerd/errdefs"
)

func TestQueryIndex(t *testing.T) {
	tests := []struct {
		value   string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"12", 12, false},
		{"-1", 0, true},
		{"x", 0, true},
		{"1.5", 0, true},
	}
	for _, tt := range tests {
		got, err := QueryIndex("since", tt.value)
		if tt.wantErr {
			if !errdefs.IsInvalidArgument(err) {
				t.Errorf("QueryIndex(%q): expected invalid argument, got %v", tt.value, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("QueryIndex(%q) = %d, %v; want %d", tt.value, got, err, tt.want)
		}
	}
}
