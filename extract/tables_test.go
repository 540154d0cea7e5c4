package extract

import "testing"

func TestDetectTablesPipes(t *testing.T) {
	p := DefaultPolicy()
	text := "Invoice summary\n\n" +
		"| Item | Qty | Price |\n" +
		"|------|-----|-------|\n" +
		"| Cement | 10 | 85.00 |\n" +
		"| Gravel | 3 | 42.50 |\n\n" +
		"Total due on receipt."

	tables := p.DetectTables(text, 2)
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	tbl := tables[0]
	if tbl.Page != 2 {
		t.Errorf("Page = %d, want 2", tbl.Page)
	}
	if len(tbl.Headers) != 3 || tbl.Headers[0] != "Item" {
		t.Errorf("Headers = %v", tbl.Headers)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(tbl.Rows))
	}
	if tbl.Rows[1][0] != "Gravel" {
		t.Errorf("Rows[1][0] = %q, want Gravel", tbl.Rows[1][0])
	}
	if tbl.Confidence < p.TableConfidenceMin || tbl.Confidence > p.TableConfidenceMax {
		t.Errorf("Confidence %v outside [%v, %v]", tbl.Confidence, p.TableConfidenceMin, p.TableConfidenceMax)
	}
}

func TestDetectTablesSpaceRuns(t *testing.T) {
	p := DefaultPolicy()
	text := "Name      Role       Office\n" +
		"Ana       Engineer   Cluj\n" +
		"Mihai     Architect  Iasi\n" +
		"Elena     Surveyor   Brasov"

	tables := p.DetectTables(text, 1)
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	if len(tables[0].Rows) != 3 {
		t.Errorf("got %d rows, want 3", len(tables[0].Rows))
	}
}

func TestDetectTablesRejectsProse(t *testing.T) {
	p := DefaultPolicy()
	text := "This is an ordinary paragraph.\nIt has several lines of text.\nNone of them look like columns."
	if tables := p.DetectTables(text, 1); len(tables) != 0 {
		t.Errorf("got %d tables from prose, want 0", len(tables))
	}
}

func TestDetectTablesRejectsTooFewRows(t *testing.T) {
	p := DefaultPolicy()
	text := "| a | b |\n| 1 | 2 |"
	if tables := p.DetectTables(text, 1); len(tables) != 0 {
		t.Errorf("header plus one row should not form a table, got %d", len(tables))
	}
}

func TestDetectTablesRowWidthTolerance(t *testing.T) {
	p := DefaultPolicy()
	// One row is a cell short; rows are padded to header width.
	text := "| a | b | c |\n| 1 | 2 | 3 |\n| 4 | 5 |\n| 6 | 7 | 8 |"
	tables := p.DetectTables(text, 1)
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	for i, row := range tables[0].Rows {
		if len(row) != 3 {
			t.Errorf("row %d width = %d, want 3", i, len(row))
		}
	}
}

func TestSplitColumns(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int // cell count; 0 means nil
	}{
		{"pipes", "| a | b | c |", 3},
		{"tabs", "a\tb", 2},
		{"triple spaces", "a   b   c", 3},
		{"plain text", "just a sentence", 0},
		{"empty", "   ", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitColumns(tt.line)
			if len(got) != tt.want {
				t.Errorf("splitColumns(%q) = %v, want %d cells", tt.line, got, tt.want)
			}
		})
	}
}
