package instrumentation

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/dashboard", "/dashboard"},
		{"/create-meeting", "/create-meeting"},
		{"/healthz/detailed", "/healthz/detailed"},
		{"/join-meeting/6f1c2a", "/join-meeting/{id}"},
		{"/join-meeting/", "other"},
		{"/wp-admin", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
