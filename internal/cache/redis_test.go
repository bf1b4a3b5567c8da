package cache

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("CACHE_TEST_KEY", "value")

	if got := getEnv("CACHE_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("getEnv() = %q, want value", got)
	}
	if got := getEnv("CACHE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %q, want fallback", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		defaultVal int
		want       int
	}{
		{"valid int", "15", 0, 15},
		{"negative int", "-1", 0, -1},
		{"not a number", "abc", 3, 3},
		{"empty", "", 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("CACHE_TEST_INT", tt.value)
			}
			if got := getEnvAsInt("CACHE_TEST_INT", tt.defaultVal); got != tt.want {
				t.Errorf("getEnvAsInt(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}
