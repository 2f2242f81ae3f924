package main

import "testing"

func TestRowsForFormatsTLSAndSize(t *testing.T) {
	rows := rowsFor([]sessionInfo{
		{ID: 1, Addr: "10.0.0.1:5555", TLS: true, Width: 80, Height: 24, Colour: "ansi"},
		{ID: 2, Addr: "10.0.0.2:5555", TLS: false, Width: 132, Height: 43, Colour: "none"},
	})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][2] != "yes" || rows[0][3] != "80x24" {
		t.Fatalf("unexpected row 0: %+v", rows[0])
	}
	if rows[1][2] != "no" || rows[1][3] != "132x43" {
		t.Fatalf("unexpected row 1: %+v", rows[1])
	}
}
