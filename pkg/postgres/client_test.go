package postgres

import "testing"

var steps = []Migration{
	{Version: 1, Description: "reports"},
	{Version: 2, Description: "archive state"},
	{Version: 3, Description: "category index"},
}

func TestPending(t *testing.T) {
	tests := []struct {
		current int
		want    []int
	}{
		{0, []int{1, 2, 3}},
		{1, []int{2, 3}},
		{3, nil},
		{7, nil},
	}
	for _, tt := range tests {
		var got []int
		for _, m := range Pending(steps, tt.current) {
			got = append(got, m.Version)
		}
		if len(got) != len(tt.want) {
			t.Errorf("Pending(%d) = %v, want %v", tt.current, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Pending(%d) = %v, want %v", tt.current, got, tt.want)
				break
			}
		}
	}
}

func TestCheckOrder(t *testing.T) {
	if err := checkOrder(steps); err != nil {
		t.Errorf("ordered steps rejected: %v", err)
	}
	if err := checkOrder([]Migration{{Version: 2}, {Version: 2}}); err == nil {
		t.Error("duplicate version accepted")
	}
	if err := checkOrder([]Migration{{Version: 0}}); err == nil {
		t.Error("version 0 accepted")
	}
}
