package dataset

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRead_CSV(t *testing.T) {
	path := writeFile(t, "sensors.csv", "Rainfall,Station,Displacement,Tilt\n12.5,north,0.3,\n7,south,1.25,0.01\n")

	tbl, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}

	row, err := tbl.Row(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(row.Columns(), ","); got != "Rainfall,Station,Displacement,Tilt" {
		t.Errorf("Columns() = %s", got)
	}
	if v, _ := row.Get("Station"); v != "north" {
		t.Errorf("Station = %v, want north", v)
	}
	if f, ok := row.Float("Displacement"); !ok || f != 0.3 {
		t.Errorf("Float(Displacement) = %v, %v", f, ok)
	}
	if f, ok := row.Float("Tilt"); !ok || !math.IsNaN(f) {
		t.Errorf("empty cell should read as NaN, got %v, %v", f, ok)
	}
	if _, ok := row.Float("Station"); ok {
		t.Error("Float(Station) should not be numeric")
	}

	nums := row.Numeric()
	if len(nums) != 3 || nums[0] != 12.5 || nums[1] != 0.3 || !math.IsNaN(nums[2]) {
		t.Errorf("Numeric() = %v, want [12.5 0.3 NaN]", nums)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.csv") }, ErrUnreadable},
		{"header only", func(t *testing.T) string { return writeFile(t, "h.csv", "a,b\n") }, ErrEmpty},
		{"blank file", func(t *testing.T) string { return writeFile(t, "b.csv", "") }, ErrEmpty},
		{"unknown extension unreadable", func(t *testing.T) string { return filepath.Join(t.TempDir(), "x.parquet") }, ErrEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.path(t))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Read() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRead_HeaderNormalization(t *testing.T) {
	path := writeFile(t, "dup.csv", "\ufeffa,,a\n1,2,3\n")
	tbl, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "Unnamed: 1", "a.1"}
	got := tbl.Columns()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRead_Workbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regression_test.xlsx")

	f := excelize.NewFile()
	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"Rainfall", "Displacement"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]any{3.5, 0.75}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A3", &[]any{4, 1}); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tbl, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	row, _ := tbl.Row(0)
	if v, ok := row.Float("Displacement"); !ok || v != 0.75 {
		t.Errorf("Displacement = %v, %v, want 0.75", v, ok)
	}
}

func TestTable_RowOutOfRange(t *testing.T) {
	tbl := NewTable([]string{"a"}, [][]any{{1.0}})
	for _, idx := range []int{-1, 1, 100} {
		if _, err := tbl.Row(idx); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Row(%d) error = %v, want ErrIndexOutOfRange", idx, err)
		}
	}
}

func TestLoader(t *testing.T) {
	l := NewLoader()
	if l.Len() != 0 {
		t.Errorf("empty loader Len() = %d", l.Len())
	}
	if _, err := l.Row(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Row on empty loader = %v", err)
	}

	good := writeFile(t, "good.csv", "a\n1\n2\n3\n")
	if err := l.Load(good); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 3 || l.Path() != good {
		t.Errorf("after Load: Len=%d Path=%q", l.Len(), l.Path())
	}

	// a failed load keeps the previous dataset active
	bad := writeFile(t, "bad.csv", "a\n")
	if err := l.Load(bad); err == nil {
		t.Fatal("expected error loading empty dataset")
	}
	if l.Len() != 3 {
		t.Errorf("failed Load replaced dataset: Len=%d", l.Len())
	}
}

func TestRow_JSON(t *testing.T) {
	row := NewRow([]string{"z", "a", "name", "gap"}, []any{2.5, math.Inf(1), "x", math.NaN()})

	b, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"z":2.5,"a":null,"name":"x","gap":null}`
	if string(b) != want {
		t.Errorf("Marshal = %s, want %s", b, want)
	}

	var back Row
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(back.Columns(), ","); got != "z,a,name,gap" {
		t.Errorf("column order lost: %s", got)
	}
	if f, ok := back.Float("gap"); !ok || !math.IsNaN(f) {
		t.Errorf("null should read back as NaN, got %v", f)
	}
}

func TestRow_Floats(t *testing.T) {
	row := NewRow([]string{"a", "b", "c"}, []any{1.0, "label", "2"})
	got := row.Floats()
	if got[0] != 1 || !math.IsNaN(got[1]) || got[2] != 2 {
		t.Errorf("Floats() = %v", got)
	}
}
