package wsl

import (
	"testing"
)

func TestParseList(t *testing.T) {
	out := "  NAME      STATE           VERSION\n" +
		"* Ubuntu    Running         2\n" +
		"  Debian    Stopped         2\n" +
		"  Alpine    Stopped         1\n"

	distros := parseList(out)
	if len(distros) != 3 {
		t.Fatalf("got %d distros, want 3", len(distros))
	}

	if distros[0].Name != "Ubuntu" || !distros[0].Default || distros[0].Status != "Running" {
		t.Errorf("default distro parsed wrong: %+v", distros[0])
	}
	if distros[1].Name != "Debian" || distros[1].Default {
		t.Errorf("second distro parsed wrong: %+v", distros[1])
	}
	if distros[2].Version != "1" {
		t.Errorf("version parsed wrong: %+v", distros[2])
	}
}

func TestParseList_Empty(t *testing.T) {
	if got := parseList("  NAME STATE VERSION\n"); len(got) != 0 {
		t.Errorf("expected no distros, got %+v", got)
	}
	if got := parseList(""); len(got) != 0 {
		t.Errorf("expected no distros for empty output, got %+v", got)
	}
}

func TestDecodeOutput(t *testing.T) {
	// UTF-16LE "Hi" followed by CRLF
	raw := []byte{'H', 0, 'i', 0, '\r', 0, '\n', 0}
	if got := decodeOutput(raw); got != "Hi\n" {
		t.Errorf("decodeOutput = %q, want %q", got, "Hi\n")
	}
}
