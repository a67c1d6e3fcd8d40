package sched

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSelectFallsBackToLocal(t *testing.T) {
	// A PATH with no grid-engine tools on it.
	t.Setenv("PATH", t.TempDir())

	cfg := NewConfig()
	ex := SelectExecutor(cfg, NewJobTable(), nil)
	if ex.Name() != "local" {
		t.Fatalf("selected %q; expected local without qsub present", ex.Name())
	}
	if pool, ok := ex.(*LocalPoolExecutor); ok {
		pool.Close()
	}
}

func TestSelectPrefersGridEngine(t *testing.T) {
	bin := t.TempDir()
	for _, name := range []string{"qsub", "qstat"} {
		if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin)

	cfg := NewConfig()
	ex := SelectExecutor(cfg, NewJobTable(), nil)
	if ex.Name() != "sge" {
		t.Fatalf("selected %q; expected sge with qsub and qstat present", ex.Name())
	}
}

func TestSelectHonorsForcedLocal(t *testing.T) {
	bin := t.TempDir()
	for _, name := range []string{"qsub", "qstat"} {
		if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin)

	cfg := NewConfig()
	cfg.Set(KeyScheduler, "local")
	ex := SelectExecutor(cfg, NewJobTable(), nil)
	if ex.Name() != "local" {
		t.Fatalf("selected %q; expected forced local", ex.Name())
	}
	if pool, ok := ex.(*LocalPoolExecutor); ok {
		pool.Close()
	}
}
