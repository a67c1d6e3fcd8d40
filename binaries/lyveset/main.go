package main

import (
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andrewdhuang/lyve-SET/common/log/hooks"
	"github.com/andrewdhuang/lyve-SET/pipeline"
	"github.com/andrewdhuang/lyve-SET/sched"
)

var (
	reference string
	readsDir  string
	outDir    string

	queue     string
	numNodes  int
	numCPUs   int
	scheduler string
	qsubXOpts string
	keepTemp  bool
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lyveset",
		Short: "lyveset runs the SNP phylogeny pipeline over a grid engine or a local worker pool",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&reference, "reference", "", "reference assembly fasta (required)")
	rootCmd.Flags().StringVar(&readsDir, "reads", "", "directory of fastq read sets (required)")
	rootCmd.Flags().StringVar(&outDir, "outdir", "", "output directory for the run (required)")
	rootCmd.Flags().StringVar(&queue, "queue", "", "grid-engine queue name")
	rootCmd.Flags().IntVar(&numNodes, "numnodes", 20, "nodes available to this run")
	rootCmd.Flags().IntVar(&numCPUs, "numcpus", 1, "cpus per job")
	rootCmd.Flags().StringVar(&scheduler, "scheduler", "auto", "backend: auto, sge or local")
	rootCmd.Flags().StringVar(&qsubXOpts, "qsubxopts", "", "extra raw flags appended to qsub")
	rootCmd.Flags().BoolVar(&keepTemp, "keep", false, "retain submission scripts and sentinels")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")
	rootCmd.MarkFlagRequired("reference")
	rootCmd.MarkFlagRequired("reads")
	rootCmd.MarkFlagRequired("outdir")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.AddHook(hooks.NewContextHook())

	if err := os.MkdirAll(outDir, 0777); err != nil {
		return err
	}

	cfg := sched.NewConfig()
	cfg.Set(sched.KeyQueue, queue)
	cfg.Set(sched.KeyNumNodes, strconv.Itoa(numNodes))
	cfg.Set(sched.KeyNumCPUs, strconv.Itoa(numCPUs))
	cfg.Set(sched.KeyWorkingDir, outDir)
	cfg.Set(sched.KeyScheduler, scheduler)
	cfg.Set(sched.KeyQsubXOpts, qsubXOpts)
	if keepTemp {
		cfg.Set(sched.KeyKeep, "1")
	}

	s := sched.NewScheduler(cfg)
	log.WithFields(log.Fields{
		"backend":   s.Backend(),
		"reference": reference,
		"reads":     readsDir,
		"outdir":    outDir,
	}).Info("Starting pipeline")

	p := pipeline.New(s, reference, readsDir, outDir)
	if err := p.Run(); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Pipeline failed")
		return err
	}
	log.Info("Pipeline complete")
	return nil
}
