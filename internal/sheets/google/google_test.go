package google

import "testing"

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		name string
		base string
		year int
		want string
	}{
		{name: "plain base gets prefixed", base: "Budgets", year: 2026, want: "2026 Budgets"},
		{name: "already prefixed is kept", base: "2025 Budgets", year: 2026, want: "2025 Budgets"},
		{name: "four digits without space get prefixed", base: "2025Budgets", year: 2026, want: "2026 2025Budgets"},
		{name: "short base", base: "B", year: 2026, want: "2026 B"},
		{name: "empty base stays empty", base: "", year: 2026, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
				t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
			}
		})
	}
}
