// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// listingRows are three source listings for one host in May 2020.
var listingRows = []string{
	"1,x,2020-05-12,100,Ann,2015-01-01,true,surry hills,Sydney,Apartment,Entire home/apt,2,100,true,12,5,90,9,9,10,10,9",
	"2,x,2020-05-12,100,Ann,2015-01-01,true,surry hills,Sydney,Apartment,Entire home/apt,2,120,true,10,3,95,9,9,10,10,9",
	"3,x,2020-05-12,100,Ann,2015-01-01,true,surry hills,Sydney,House,Private room,1,80,false,30,0,,,,,,",
}

// SetupTestProject creates a temporary project with a listingwh.yaml
// pointing at a DuckDB warehouse file and a complete source drop.
// Returns the project directory.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	WriteFile(t, filepath.Join(dir, "listingwh.yaml"), `target:
  type: duckdb
  database: warehouse.duckdb
state_path: state/state.db
sources:
  dir: data
  header: true
pipeline:
  max_parallelism: 1
  retries: 0
  retry_delay: 1ms
`)

	WriteFile(t, filepath.Join(dir, "data", "listings", "05_2020.csv"),
		header(22)+strings.Join(listingRows, "\n")+"\n")
	WriteFile(t, filepath.Join(dir, "data", "census", "census_1.csv"),
		header(4)+"LGA10050,100,110,210\n")
	WriteFile(t, filepath.Join(dir, "data", "census", "census_2.csv"),
		header(9)+"LGA10050,35,2000,900,450,2100,0.8,1800,2.4\n")
	WriteFile(t, filepath.Join(dir, "data", "lga", "lga_code.csv"),
		header(2)+"10050,Sydney\n")
	WriteFile(t, filepath.Join(dir, "data", "lga", "lga_suburb.csv"),
		header(2)+"Sydney,Surry Hills\n")

	return dir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func header(n int) string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = "col" + strconv.Itoa(i+1)
	}
	return strings.Join(cols, ",") + "\n"
}
