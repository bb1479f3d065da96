package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the root command against a temporary SQLite database.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setupStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FINDATAOPS_STORE_DRIVER", "sqlite")
	t.Setenv("FINDATAOPS_STORE_DSN", filepath.Join(dir, "test.db"))
	return dir
}

const chaseFile = `Transaction Date,Post Date,Description,Category,Type,Amount,Memo
01/05/2024,01/06/2024,STARBUCKS #123,Food & Drink,Sale,-4.50,
01/07/2024,01/08/2024,WHOLE FOODS,Groceries,Sale,-82.13,
`

func TestIngestAndSummary(t *testing.T) {
	dir := setupStore(t)
	path := filepath.Join(dir, "chase_2024_01.csv")
	if err := os.WriteFile(path, []byte(chaseFile), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "ingest", path)
	if err != nil {
		t.Fatalf("ingest failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "SUCCESS") || !strings.Contains(out, "Chase") {
		t.Errorf("ingest output missing run row:\n%s", out)
	}

	out, err = execute(t, "summary", "--runs", "0")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !strings.Contains(out, "Transactions:") || !strings.Contains(out, "2") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestIngestDirectory(t *testing.T) {
	dir := setupStore(t)
	data := filepath.Join(dir, "incoming")
	if err := os.Mkdir(data, 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(data, "chase_jan.csv"), []byte(chaseFile), 0o644)
	_ = os.WriteFile(filepath.Join(data, "notes.txt"), []byte("ignored"), 0o644)

	out, err := execute(t, "ingest", data)
	if err != nil {
		t.Fatalf("ingest failed: %v\n%s", err, out)
	}
	if strings.Count(out, "SUCCESS") != 1 {
		t.Errorf("want exactly one run:\n%s", out)
	}
}

func TestRunWithoutFiles(t *testing.T) {
	setupStore(t)
	out, err := execute(t, "run", "--as-of", "2024-06-30")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "anomaly") || !strings.Contains(out, "forecast") {
		t.Errorf("want anomaly and forecast runs:\n%s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	setupStore(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad as-of", []string{"detect", "--as-of", "30/06/2024"}},
		{"ack without reviewer", []string{"ack", "some-id"}},
		{"ack unknown id", []string{"ack", "some-id", "--by", "alice"}},
		{"bad severity", []string{"anomalies", "--severity", "critical"}},
		{"upload without bucket", []string{"upload", "file.csv"}},
		{"ingest without files", []string{"ingest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("%v: expected error", tt.args)
			}
		})
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	setupStore(t)
	if _, err := execute(t, "migrate"); err != nil {
		t.Fatalf("first migrate failed: %v", err)
	}
	out, err := execute(t, "migrate")
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("second migrate output = %q", out)
	}
}

func TestParseAsOf(t *testing.T) {
	got, err := parseAsOf("2024-02-29")
	if err != nil || got.Format("2006-01-02") != "2024-02-29" {
		t.Errorf("parseAsOf = %v, %v", got, err)
	}
	if _, err := parseAsOf("2024-13-01"); err == nil {
		t.Error("expected error for invalid month")
	}
	if got, err := parseAsOf(""); err != nil || got.IsZero() {
		t.Errorf("empty as-of should default to today, got %v, %v", got, err)
	}
}
