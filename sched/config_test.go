package sched

import "testing"

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if got := cfg.GetInt(KeyNumCPUs, 0); got != 1 {
		t.Fatalf("numcpus default %d; expected 1", got)
	}
	if got := cfg.GetInt(KeyNumNodes, 0); got != 1 {
		t.Fatalf("numnodes default %d; expected 1", got)
	}
	if got := cfg.Get("nosuchkey"); got != "" {
		t.Fatalf("unset key returned %q", got)
	}
}

func TestConfigSetGet(t *testing.T) {
	cfg := NewConfig()
	cfg.Set(KeyQueue, "all.q")
	if got := cfg.Get(KeyQueue); got != "all.q" {
		t.Fatalf("got %q; expected all.q", got)
	}
}

func TestConfigGetIntFallback(t *testing.T) {
	cfg := NewConfig()
	cfg.Set("threads", "not-a-number")
	if got := cfg.GetInt("threads", 3); got != 3 {
		t.Fatalf("got %d; expected fallback 3", got)
	}
}

func TestCeiling(t *testing.T) {
	cfg := NewConfig()
	cfg.Set(KeyNumNodes, "4")
	cfg.Set(KeyNumCPUs, "2")
	if got := cfg.Ceiling(); got != 8 {
		t.Fatalf("ceiling %d; expected 8", got)
	}

	// Degenerate single-node case: numcpus alone.
	cfg.Set(KeyNumNodes, "1")
	if got := cfg.Ceiling(); got != 2 {
		t.Fatalf("ceiling %d; expected 2", got)
	}

	cfg.Set(KeyNumNodes, "0")
	if got := cfg.Ceiling(); got != 2 {
		t.Fatalf("ceiling %d with zero nodes; expected clamp to 2", got)
	}
}

func TestConfigGetBool(t *testing.T) {
	cfg := NewConfig()
	for _, v := range []string{"1", "true", "yes"} {
		cfg.Set(KeyKeep, v)
		if !cfg.GetBool(KeyKeep) {
			t.Fatalf("%q should read as true", v)
		}
	}
	cfg.Set(KeyKeep, "0")
	if cfg.GetBool(KeyKeep) {
		t.Fatal("0 should read as false")
	}
}
