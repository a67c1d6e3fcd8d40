package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/andrewdhuang/lyve-SET/sched"
)

// IndexReference builds the smalt hash index and the faidx index for the
// reference assembly. Quick single jobs; each one runs synchronously.
func (p *Pipeline) IndexReference() error {
	ref := p.Reference

	if !exists(ref + ".smi") {
		cmd := fmt.Sprintf("smalt index -k 5 -s 3 %s %s", ref, ref)
		if code, err := p.Sched.PleaseExecuteAndWait(cmd, sched.Options{Label: "smalt-index"}); err != nil {
			return err
		} else if code != 0 {
			return errors.Errorf("smalt index exited %d", code)
		}
	} else {
		log.WithFields(log.Fields{"artifact": ref + ".smi"}).Info("Reference already indexed, skipping")
	}

	if !exists(ref + ".fai") {
		cmd := fmt.Sprintf("samtools faidx %s", ref)
		if code, err := p.Sched.PleaseExecuteAndWait(cmd, sched.Options{Label: "faidx"}); err != nil {
			return err
		} else if code != 0 {
			return errors.Errorf("samtools faidx exited %d", code)
		}
	}
	return nil
}

// MapReads maps each sample against the reference, one job per sample,
// then joins them at the barrier. Samples whose sorted bam already exists
// are skipped entirely.
func (p *Pipeline) MapReads() error {
	samples, err := p.Samples()
	if err != nil {
		return err
	}
	cpus := p.Sched.Config().GetInt(sched.KeyNumCPUs, 1)

	submitted := 0
	for _, sample := range samples {
		bam := p.bamFor(sample)
		if exists(bam) {
			log.WithFields(log.Fields{"sample": sample.Name, "artifact": bam}).Info("Already mapped, skipping")
			continue
		}
		cmd := fmt.Sprintf("smalt map -f samsoft -n %d %s %s | samtools view -bS -T %s - | samtools sort -o %s - && samtools index %s",
			cpus, p.Reference, sample.Reads, p.Reference, bam, bam)
		if _, err := p.Sched.PleaseExecute(cmd, sched.Options{Label: "map-" + sample.Name, CPUWeight: cpus}); err != nil {
			return err
		}
		submitted++
	}

	log.WithFields(log.Fields{"submitted": submitted, "samples": len(samples)}).Info("Mapping jobs submitted")
	_, err = p.Sched.WrapItUp()
	return err
}

// CallVariants calls SNPs per sample from its sorted bam, one job per
// sample behind a barrier.
func (p *Pipeline) CallVariants() error {
	samples, err := p.Samples()
	if err != nil {
		return err
	}

	for _, sample := range samples {
		vcf := p.vcfFor(sample)
		if exists(vcf) {
			log.WithFields(log.Fields{"sample": sample.Name, "artifact": vcf}).Info("Already called, skipping")
			continue
		}
		bam := p.bamFor(sample)
		cmd := fmt.Sprintf("samtools mpileup -f %s %s | varscan mpileup2snp --min-coverage 10 --min-avg-qual 20 --output-vcf 1 | bgzip -c > %s && tabix -p vcf %s",
			p.Reference, bam, vcf, vcf)
		if _, err := p.Sched.PleaseExecute(cmd, sched.Options{Label: "call-" + sample.Name}); err != nil {
			return err
		}
	}

	_, err = p.Sched.WrapItUp()
	return err
}

// BuildMatrix pools the per-sample calls and turns them into a SNP
// alignment and pairwise distance matrix. One job, run synchronously.
func (p *Pipeline) BuildMatrix() error {
	aln := p.alignmentPath()
	if exists(aln) {
		log.WithFields(log.Fields{"artifact": aln}).Info("Alignment already built, skipping")
		return nil
	}

	pooled := filepath.Join(p.msaDir(), "pooled.vcf.gz")
	cmd := fmt.Sprintf("mergeVcf.sh -o %s %s && set_processPooledVcf.pl %s --prefix %s",
		pooled, filepath.Join(p.vcfDir(), "*.vcf.gz"), pooled, filepath.Join(p.msaDir(), "out"))
	code, err := p.Sched.PleaseExecuteAndWait(cmd, sched.Options{Label: "matrix"})
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.Errorf("matrix construction exited %d", code)
	}
	return nil
}

// InferTree runs the maximum-likelihood phylogeny on the SNP alignment.
func (p *Pipeline) InferTree() error {
	tree := filepath.Join(p.msaDir(), "RAxML_bipartitions.lyveset")
	if exists(tree) {
		log.WithFields(log.Fields{"artifact": tree}).Info("Tree already inferred, skipping")
		return nil
	}

	cpus := p.Sched.Config().GetInt(sched.KeyNumCPUs, 1)
	cmd := fmt.Sprintf("raxmlHPC -f a -m GTRGAMMA -p 12345 -x 12345 -N 100 -T %d -s %s -n lyveset -w %s",
		cpus, p.alignmentPath(), p.msaDir())
	code, err := p.Sched.PleaseExecuteAndWait(cmd, sched.Options{Label: "raxml", CPUWeight: cpus})
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.Errorf("raxml exited %d", code)
	}
	return nil
}

func (p *Pipeline) bamFor(s Sample) string {
	return filepath.Join(p.bamDir(), s.Name+".sorted.bam")
}

func (p *Pipeline) vcfFor(s Sample) string {
	return filepath.Join(p.vcfDir(), s.Name+".vcf.gz")
}

func (p *Pipeline) alignmentPath() string {
	return filepath.Join(p.msaDir(), "out.aln.fas")
}
