package main

import "testing"

func TestShortID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"d0a6c1de-6a5d-4b9f-8a6e-1c2d3e4f5a6b", "d0a6c1de"},
		{"abcd1234", "abcd1234"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, c := range cases {
		if got := shortID(c.in); got != c.want {
			t.Fatalf("shortID(%q): got %q want %q", c.in, got, c.want)
		}
	}
}
