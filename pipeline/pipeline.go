package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/andrewdhuang/lyve-SET/sched"
)

// Pipeline runs the Lyve-SET stages in order: index the reference, map
// reads per sample, call variants per sample, pool the calls into an
// alignment, infer the phylogeny. All domain work happens in external
// tools; this package only builds their command lines, skips work whose
// outputs already exist, and drives the scheduler's barriers.
type Pipeline struct {
	Sched     *sched.Scheduler
	Reference string
	ReadsDir  string
	OutDir    string
}

func New(s *sched.Scheduler, reference, readsDir, outDir string) *Pipeline {
	return &Pipeline{Sched: s, Reference: reference, ReadsDir: readsDir, OutDir: outDir}
}

// Run executes every stage. A stage only starts after the previous stage's
// barrier returned clean; the first failing stage aborts the run.
func (p *Pipeline) Run() error {
	if err := p.setupDirs(); err != nil {
		return err
	}

	stages := []struct {
		name string
		run  func() error
	}{
		{"index-reference", p.IndexReference},
		{"map-reads", p.MapReads},
		{"call-variants", p.CallVariants},
		{"build-matrix", p.BuildMatrix},
		{"infer-tree", p.InferTree},
	}
	for _, stage := range stages {
		log.WithFields(log.Fields{"stage": stage.name}).Info("Stage starting")
		if err := stage.run(); err != nil {
			return errors.Wrapf(err, "stage %s failed", stage.name)
		}
		log.WithFields(log.Fields{"stage": stage.name}).Info("Stage complete")
	}
	return nil
}

func (p *Pipeline) setupDirs() error {
	for _, d := range []string{p.bamDir(), p.vcfDir(), p.msaDir(), p.logDir()} {
		if err := os.MkdirAll(d, 0777); err != nil {
			return errors.Wrapf(err, "could not create %s", d)
		}
	}
	// Per-job logs go under the run's own log dir unless the caller
	// already pointed the scheduler elsewhere.
	if p.Sched.Get(sched.KeyLogDir) == "" {
		p.Sched.Set(sched.KeyLogDir, p.logDir())
	}
	return nil
}

func (p *Pipeline) bamDir() string { return filepath.Join(p.OutDir, "bam") }
func (p *Pipeline) vcfDir() string { return filepath.Join(p.OutDir, "vcf") }
func (p *Pipeline) msaDir() string { return filepath.Join(p.OutDir, "msa") }
func (p *Pipeline) logDir() string { return filepath.Join(p.OutDir, "log") }

// Samples finds the read sets under ReadsDir. One fastq (optionally
// gzipped, optionally in a subdirectory) is one sample.
func (p *Pipeline) Samples() ([]Sample, error) {
	var paths []string
	for _, pattern := range []string{"**/*.fastq.gz", "**/*.fq.gz", "**/*.fastq", "**/*.fq"} {
		matches, err := doublestar.FilepathGlob(filepath.Join(p.ReadsDir, pattern))
		if err != nil {
			return nil, errors.Wrap(err, "could not glob reads")
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	samples := make([]Sample, 0, len(paths))
	for _, path := range paths {
		samples = append(samples, Sample{Name: sampleName(path), Reads: path})
	}
	return samples, nil
}

// Sample is one read set to be mapped and called independently.
type Sample struct {
	Name  string
	Reads string
}

func sampleName(readsPath string) string {
	name := filepath.Base(readsPath)
	for _, suffix := range []string{".fastq.gz", ".fq.gz", ".fastq", ".fq"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// exists reports whether the expected output artifact is already on disk,
// the resume check every stage runs before submitting work.
func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
