package main

import "testing"

func TestParseID(t *testing.T) {
	if id, err := parseID("12"); err != nil || id != 12 {
		t.Errorf("Expected 12, got %d (%v)", id, err)
	}
	for _, bad := range []string{"", "0", "-1", "abc"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestParseArgs(t *testing.T) {
	fs, g := newFlagSet("send")
	rest, err := parseArgs(fs, []string{"--url", "http://hub:9000", "3", "play_song", "x"}, 2, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if g.url != "http://hub:9000" || len(rest) != 3 || rest[1] != "play_song" {
		t.Errorf("Unexpected parse url=%s rest=%v", g.url, rest)
	}

	fs, _ = newFlagSet("unregister")
	if _, err := parseArgs(fs, nil, 1, 1); err == nil {
		t.Error("Expected missing argument to fail")
	}
	fs, _ = newFlagSet("watch")
	if rest, err := parseArgs(fs, []string{"a", "b", "c"}, 0, -1); err != nil || len(rest) != 3 {
		t.Errorf("Expected unbounded args, got %v (%v)", rest, err)
	}
}
