package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/icu-build/pkg/buildlog"
)

// Invocation is a single external command.
type Invocation struct {
	// Step names the build step for logs and errors (i.e. configure).
	Step string
	Dir  string
	Args []string
	// Env overrides variables of the base environment.
	Env map[string]string
}

// Runner executes invocations. Implementations must return an error for non-zero exit codes.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// ShellRunner runs invocations through mvdan.cc/sh's interpreter.
type ShellRunner struct {
	// Environ is the base environment in KEY=value form.
	Environ []string
	Stdout  io.Writer
	Stderr  io.Writer
	// DryRun only logs the commands.
	DryRun bool
}

// NewShellRunner returns a runner which inherits the given environment and writes to os.Stdout/os.Stderr.
func NewShellRunner(environ []string, dryRun bool) *ShellRunner {
	return &ShellRunner{
		Environ: environ,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		DryRun:  dryRun,
	}
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

// mergeEnv returns base with every entry of overrides replaced or appended.
func mergeEnv(base []string, overrides map[string]string) []string {
	result := make([]string, 0, len(base)+len(overrides))
	for _, item := range base {
		parts := strings.SplitN(item, "=", 2)
		name := parts[0]
		if runtime.GOOS == "windows" {
			name = strings.ToUpper(name)
		}

		// skip overriden entries to avoid conflicts
		if _, present := overrides[name]; !present {
			result = append(result, item)
		}
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		result = append(result, fmt.Sprintf("%s=%s", k, overrides[k]))
	}

	return result
}

func wordFor(arg string) (*syntax.Word, error) {
	var wordPart syntax.WordPart

	if strings.Contains(arg, "'") {
		return nil, eris.Errorf("argument %s contains a single quote which isn't supported", arg)
	}

	if arg == "" || strings.ContainsAny(arg, " \t\n$\"\\*?[]{}()<>|&;#~`") {
		node := new(syntax.SglQuoted)
		node.Value = arg
		wordPart = node
	} else {
		node := new(syntax.Lit)
		node.Value = arg
		wordPart = node
	}

	return &syntax.Word{Parts: []syntax.WordPart{wordPart}}, nil
}

// Statement converts the invocation into a shell statement. Env overrides are rendered as
// assignments so the printed command can be copied into a terminal.
func (inv Invocation) Statement() (*syntax.Stmt, error) {
	if len(inv.Args) == 0 {
		return nil, eris.New("empty command")
	}

	cmd := new(syntax.CallExpr)

	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, err := wordFor(inv.Env[k])
		if err != nil {
			return nil, err
		}

		cmd.Assigns = append(cmd.Assigns, &syntax.Assign{
			Name:  &syntax.Lit{Value: k},
			Value: value,
		})
	}

	for _, arg := range inv.Args {
		word, err := wordFor(arg)
		if err != nil {
			return nil, err
		}
		cmd.Args = append(cmd.Args, word)
	}

	return &syntax.Stmt{Cmd: cmd}, nil
}

// String renders the invocation as a single shell line.
func (inv Invocation) String() string {
	stmt, err := inv.Statement()
	if err != nil {
		return strings.Join(inv.Args, " ")
	}

	strBuffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	if err = printer.Print(&strBuffer, stmt); err != nil {
		return strings.Join(inv.Args, " ")
	}

	return strBuffer.String()
}

// Run executes the invocation and waits for it to finish.
func (r *ShellRunner) Run(ctx context.Context, inv Invocation) error {
	// The overrides are passed through the environment instead of the statement's assignments so
	// that values aren't subject to shell expansion.
	stmt, err := Invocation{Args: inv.Args}.Statement()
	if err != nil {
		return err
	}

	buildlog.Log(ctx).Info().
		Str("step", inv.Step).
		Bool("command", true).
		Msg(inv.String())

	if r.DryRun {
		return nil
	}

	runner, err := interp.New(
		interp.Dir(inv.Dir),
		interp.Env(expand.ListEnviron(mergeEnv(r.Environ, inv.Env)...)),
		interp.ExecHandler(defaultExecHandler),
		interp.StdIO(nil, r.Stdout, r.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	err = runner.Run(ctx, stmt)
	if err != nil {
		return eris.Wrapf(err, "%s exited with an error", inv.Args[0])
	}

	return nil
}
