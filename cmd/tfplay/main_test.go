package main

import (
	"path/filepath"
	"testing"

	"github.com/labalyzer/labctl/labsrv"
)

func TestRunFailsOnMissingInputs(t *testing.T) {
	c := labsrv.DefaultConfig()
	c.Mock = true
	dir := t.TempDir()
	code := run(c, filepath.Join(dir, "missing.csv"), filepath.Join(dir, "missing.bin"))
	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}
