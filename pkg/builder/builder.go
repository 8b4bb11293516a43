package builder

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/icu-build/pkg"
	"github.com/ngld/icu-build/pkg/buildlog"
	"github.com/ngld/icu-build/pkg/targets"
)

// Plan lists the targets of a single run. Host is built first since every cross build references it.
type Plan struct {
	Host    *targets.Target
	Targets []*targets.Target
}

// Result describes a finished target.
type Result struct {
	Target    string
	BuildDir  string
	OutputDir string
	Duration  time.Duration
}

// Report summarizes a run. On failure it contains all targets completed before the failing one.
type Report struct {
	RunID   string
	Host    *Result
	Results []Result
}

// Builder runs a Plan sequentially.
type Builder struct {
	Driver    *Driver
	Collector *Collector
	RunID     string
}

// BuildDir returns the dedicated build directory for a target.
func (b *Builder) BuildDir(name string) string {
	return filepath.Join(b.Driver.SourceDir, "build-"+name)
}

// Run builds the host reference and then every target of the plan. The first failure aborts the run.
func (b *Builder) Run(ctx context.Context, plan Plan) (*Report, error) {
	report := &Report{RunID: b.RunID}
	if plan.Host == nil {
		return report, eris.New("the plan has no host build")
	}

	pkg.PrintTask("Building host ICU")
	hostDir := b.BuildDir(targets.HostName)
	start := time.Now()
	err := b.build(ctx, plan.Host, hostDir, "")
	if err != nil {
		return report, err
	}
	report.Host = &Result{Target: plan.Host.Name, BuildDir: hostDir, Duration: time.Since(start)}

	for _, t := range plan.Targets {
		pkg.PrintTask("Building ICU for " + t.Name)
		buildDir := b.BuildDir(t.Name)
		start = time.Now()

		err = b.build(ctx, t, buildDir, hostDir)
		if err != nil {
			return report, err
		}

		pkg.PrintSubtask("Collecting libraries")
		tctx := buildlog.WithFields(ctx, map[string]string{"target": t.Name, "step": StepCollect})
		var dest string
		if b.Driver.DryRun {
			dest = b.Collector.Dest(t)
		} else {
			dest, err = b.Collector.Collect(tctx, t, buildDir)
			if err != nil {
				return report, &StepError{Target: t.Name, Step: StepCollect, Err: err}
			}
		}

		buildlog.Log(tctx).Info().Str("dest", dest).Msg("Copied ICU libraries")
		report.Results = append(report.Results, Result{
			Target:    t.Name,
			BuildDir:  buildDir,
			OutputDir: dest,
			Duration:  time.Since(start),
		})
	}

	return report, nil
}

func (b *Builder) build(ctx context.Context, t *targets.Target, buildDir, crossRef string) error {
	ctx = buildlog.WithFields(ctx, map[string]string{"target": t.Name})

	err := b.Driver.PrepareBuildDir(buildDir)
	if err != nil {
		return err
	}

	pkg.PrintSubtask("Configuring")
	err = b.Driver.Configure(buildlog.WithFields(ctx, map[string]string{"step": StepConfigure}), t, buildDir, crossRef)
	if err != nil {
		return err
	}

	pkg.PrintSubtask("Compiling")
	return b.Driver.Compile(buildlog.WithFields(ctx, map[string]string{"step": StepCompile}), t, buildDir)
}
