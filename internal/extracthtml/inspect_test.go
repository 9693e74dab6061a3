package extracthtml

import (
	"bytes"
	"strings"
	"testing"
)

// TestInspect_DescribesTables verifies the default mode reports kept columns,
// dropped UI columns, and data row counts.
func TestInspect_DescribesTables(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Inspect(&buf, liveTable, InspectOptions{}); err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	want := "table 1: columns=[Docente Categoria] dropped=1 rows=2\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\nwant=%q\ngot=%q", want, buf.String())
	}
}

func TestInspect_NoTables(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Inspect(&buf, `<p>x</p>`, InspectOptions{}); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if buf.String() != "no tables\n" {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

// TestInspect_SelectorText verifies text mode prints trimmed text and a blank
// line between matches.
func TestInspect_SelectorText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := Inspect(&buf, `<select><option> Selecione </option><option>FISICA (31001017004P0)</option></select>`,
		InspectOptions{Selector: "option", TextOnly: true})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	want := "Selecione\n\nFISICA (31001017004P0)\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\nwant=%q\ngot=%q", want, buf.String())
	}
}

func TestInspect_SelectorOuterHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Inspect(&buf, `<div id="x"><span>Hi</span></div>`, InspectOptions{Selector: "div#x"}); err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `<div id="x">`) || !strings.Contains(out, `<span>Hi</span>`) {
		t.Fatalf("unexpected outer html output: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("expected trailing blank line, got %q", out)
	}
}
