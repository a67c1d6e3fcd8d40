package sched

import (
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Well-known config keys. The store itself is schemaless; callers may set
// anything, and stage code supplies its own defaults on read.
const (
	KeyQueue      = "queue"      // grid-engine queue name
	KeyNumNodes   = "numnodes"   // nodes available to this run
	KeyNumCPUs    = "numcpus"    // cpus per node / per job
	KeyWorkingDir = "workingdir" // cwd for dispatched commands
	KeyLogDir     = "logdir"     // per-job stdout/stderr files
	KeyQsubXOpts  = "qsubxopts"  // extra raw flags appended to qsub
	KeyKeep       = "keep"       // retain submission scripts and sentinels
	KeyScheduler  = "scheduler"  // backend override: auto, sge, local
)

// NewConfig creates a config store with the stage defaults in place.
func NewConfig() *Config {
	return &Config{settings: map[string]string{
		KeyNumNodes:   "1",
		KeyNumCPUs:    "1",
		KeyWorkingDir: ".",
		KeyScheduler:  "auto",
	}}
}

// Config is the shared settings store read by every dispatch. It is safe for
// concurrent reads; writes belong to the coordinator and must happen between
// barriers, never while the current batch is in flight.
type Config struct {
	mu       sync.RWMutex
	settings map[string]string
}

func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[key] = value
}

func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings[key]
}

// GetInt reads key as an integer, falling back to def when the key is unset
// or unparseable.
func (c *Config) GetInt(key string, def int) int {
	v := c.Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": v}).Warnf("Config value is not an integer, using %d", def)
		return def
	}
	return i
}

// GetBool treats "1", "true" and "yes" as true; anything else is false.
func (c *Config) GetBool(key string) bool {
	switch c.Get(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Ceiling derives the concurrency ceiling for the local backend:
// numnodes x numcpus, with numcpus alone as the degenerate single-node case.
func (c *Config) Ceiling() int {
	nodes := c.GetInt(KeyNumNodes, 1)
	cpus := c.GetInt(KeyNumCPUs, 1)
	if nodes < 1 {
		nodes = 1
	}
	if cpus < 1 {
		cpus = 1
	}
	return nodes * cpus
}
