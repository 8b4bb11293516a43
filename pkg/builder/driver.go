package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/ngld/icu-build/pkg/targets"
)

var (
	// ErrMissingSource is returned if the extracted source tree lacks the configure script.
	ErrMissingSource = eris.New("source tree is incomplete")
	// ErrStepFailed marks failures of an external build step.
	ErrStepFailed = eris.New("build step failed")
)

const (
	StepConfigure = "configure"
	StepCompile   = "compile"
	StepCollect   = "collect"

	// DefaultJobs is the parallelism passed to make if none is configured.
	DefaultJobs = 8
)

// StepError describes a failed step of a target's build.
type StepError struct {
	Target string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed for target %s: %v", e.Step, e.Target, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is makes eris.Is(err, ErrStepFailed) match any StepError.
func (e *StepError) Is(target error) bool {
	return target == ErrStepFailed
}

// Driver runs ICU's configure and make steps for resolved targets.
type Driver struct {
	Runner Runner
	// SourceDir is the ICU source directory (the one containing runConfigureICU).
	SourceDir string
	Jobs      int
	// DryRun skips all checks and filesystem changes.
	DryRun bool
}

// ConfigureScript returns the path to runConfigureICU.
func (d *Driver) ConfigureScript() string {
	return filepath.Join(d.SourceDir, "runConfigureICU")
}

// ConfigureInvocation builds the configure command for the target. crossRef is the completed host build
// and is only used if the target needs it.
func (d *Driver) ConfigureInvocation(t *targets.Target, buildDir, crossRef string) Invocation {
	args := []string{"sh", d.ConfigureScript(), t.PlatformArg()}
	if t.HostTriple != "" {
		args = append(args, "--host="+t.HostTriple)
	}
	if t.RequiresCrossReference && crossRef != "" {
		args = append(args, "--with-cross-build="+crossRef)
	}
	args = append(args, t.ConfigureArgs...)
	args = append(args, "--enable-static", "--disable-shared")

	return Invocation{
		Step: StepConfigure,
		Dir:  buildDir,
		Args: args,
		Env:  t.Env,
	}
}

// Configure runs runConfigureICU inside buildDir.
func (d *Driver) Configure(ctx context.Context, t *targets.Target, buildDir, crossRef string) error {
	if !d.DryRun {
		script := d.ConfigureScript()
		if _, err := os.Stat(script); err != nil {
			return eris.Wrapf(ErrMissingSource, "Cannot find runConfigureICU at %s", script)
		}
	}

	if t.RequiresCrossReference && crossRef == "" {
		return eris.Errorf("target %s needs a completed host build", t.Name)
	}

	err := d.Runner.Run(ctx, d.ConfigureInvocation(t, buildDir, crossRef))
	if err != nil {
		return &StepError{Target: t.Name, Step: StepConfigure, Err: err}
	}

	return nil
}

// Compile runs make inside buildDir.
func (d *Driver) Compile(ctx context.Context, t *targets.Target, buildDir string) error {
	jobs := d.Jobs
	if jobs < 1 {
		jobs = DefaultJobs
	}

	err := d.Runner.Run(ctx, Invocation{
		Step: StepCompile,
		Dir:  buildDir,
		Args: []string{"make", "-j" + strconv.Itoa(jobs)},
	})
	if err != nil {
		return &StepError{Target: t.Name, Step: StepCompile, Err: err}
	}

	return nil
}

// PrepareBuildDir removes dir and creates it again. Build directories are never reused.
func (d *Driver) PrepareBuildDir(dir string) error {
	if d.DryRun {
		return nil
	}

	err := os.RemoveAll(dir)
	if err != nil {
		return eris.Wrapf(err, "Failed to remove %s", dir)
	}

	err = os.MkdirAll(dir, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dir)
	}

	return nil
}
