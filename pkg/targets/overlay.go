package targets

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/icu-build/pkg/buildlog"
)

type overlayCtx struct {
	ctx      context.Context
	table    *Table
	environ  map[string]string
	filepath string
	added    []string
}

func getOverlayCtx(thread *starlark.Thread) *overlayCtx {
	return thread.Local("overlayCtx").(*overlayCtx)
}

func overlayPos(thread *starlark.Thread) string {
	ctx := getOverlayCtx(thread)
	pos := thread.CallFrame(1).Pos

	return fmt.Sprintf("%s:%d:%d", filepath.Base(ctx.filepath), pos.Line, pos.Col)
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	buildlog.Log(getOverlayCtx(thread).ctx).Info().Msgf("%s: %s", overlayPos(thread), message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	buildlog.Log(getOverlayCtx(thread).ctx).Warn().Msgf("%s: %s", overlayPos(thread), message)
	return starlark.None, nil
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var defaultValue string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &defaultValue)
	if err != nil {
		return nil, err
	}

	value, ok := getOverlayCtx(thread).environ[key]
	if !ok || value == "" {
		value = defaultValue
	}

	return starlark.String(value), nil
}

func starlarkList2stringSlice(input *starlark.List, field string) ([]string, error) {
	if input == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func starTarget(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var family, toolchain string
	var configureArgs *starlark.List

	spec := new(Spec)
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &spec.Name, "family", &family,
		"arch?", &spec.Arch, "toolchain?", &toolchain, "triple?", &spec.Triple, "api?", &spec.API,
		"configure_args?", &configureArgs, "stub_data?", &spec.StubData, "cc?", &spec.CC, "cxx?", &spec.CXX,
		"extra_flags?", &spec.ExtraFlags)
	if err != nil {
		return nil, err
	}

	spec.Family = Family(family)
	spec.Toolchain = Toolchain(toolchain)
	if spec.Toolchain == "" {
		spec.Toolchain = ToolchainNative
		if spec.CC != "" {
			// An explicit compiler only makes sense for cross builds so treat it like zig.
			spec.Toolchain = ToolchainZig
		}
	}

	spec.ConfigureArgs, err = starlarkList2stringSlice(configureArgs, "configure_args")
	if err != nil {
		return nil, err
	}

	ctx := getOverlayCtx(thread)
	_, replaced := ctx.table.Get(spec.Name)
	if err = ctx.table.Set(spec); err != nil {
		return nil, eris.Wrap(err, overlayPos(thread))
	}

	if replaced {
		buildlog.Log(ctx.ctx).Debug().Msgf("%s: replaced target %s", overlayPos(thread), spec.Name)
	} else {
		ctx.added = append(ctx.added, spec.Name)
	}

	return starlark.String(spec.Name), nil
}

// LoadOverlay executes the given Starlark file which may add or replace rows of table through target().
// It returns the names of the newly added targets in declaration order. A missing file isn't an error.
func LoadOverlay(ctx context.Context, filename string, table *Table, environ []string) ([]string, error) {
	script, err := ioutil.ReadFile(filename)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	envMap := make(map[string]string, len(environ))
	for _, item := range environ {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	builtins := starlark.StringDict{
		"OS":     starlark.String(runtime.GOOS),
		"ARCH":   starlark.String(runtime.GOARCH),
		"info":   starlark.NewBuiltin("info", starInfo),
		"warn":   starlark.NewBuiltin("warn", starWarn),
		"getenv": starlark.NewBuiltin("getenv", getenv),
		"target": starlark.NewBuiltin("target", starTarget),
	}

	thread := &starlark.Thread{
		Name: "overlay",
		Print: func(thread *starlark.Thread, msg string) {
			buildlog.Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := overlayCtx{
		ctx:      ctx,
		table:    table,
		environ:  envMap,
		filepath: filename,
		added:    make([]string, 0),
	}
	thread.SetLocal("overlayCtx", &threadCtx)

	_, err = starlark.ExecFile(thread, filename, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", filename, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", filename)
	}

	return threadCtx.added, nil
}
