package targets

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnknownTarget is returned for identifiers that are not part of the table.
	ErrUnknownTarget = eris.New("unknown target")
	// ErrMissingEnv is returned when a required SDK / NDK variable isn't set.
	ErrMissingEnv = eris.New("missing environment variable")
	// ErrUnsupportedHost is returned if runConfigureICU has no platform for the build machine.
	ErrUnsupportedHost = eris.New("unsupported build machine")
)

const (
	// EnvOHOSSDK points to the OpenHarmony SDK root.
	EnvOHOSSDK = "OHOS_SDK"
	// EnvAndroidNDK points to the Android NDK root.
	EnvAndroidNDK = "ANDROID_NDK_HOME"

	// DefaultOHOSSDK is the SDK location of a default DevEco Studio installation.
	DefaultOHOSSDK = "/Applications/DevEco-Studio.app/Contents/sdk"
)

// CollationFlags strip ICU down to the collation service.
var CollationFlags = []string{"-DUCONFIG_ONLY_COLLATION=1", "-DUCONFIG_NO_LEGACY_CONVERSION=1"}

// Environment holds everything the resolver would otherwise read from the process environment.
type Environment struct {
	OHOSSDK    string
	AndroidNDK string
	// NDKHostTag is the prebuilt toolchain directory inside the NDK (i.e. darwin-x86_64).
	NDKHostTag string
	// HostOS is the GOOS of the build machine. It selects the platform of the host build.
	HostOS string
}

// EnvironmentFrom extracts the resolver environment from a list of KEY=value pairs.
func EnvironmentFrom(environ []string, goos string) Environment {
	env := Environment{HostOS: goos}
	for _, item := range environ {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}

		switch parts[0] {
		case EnvOHOSSDK:
			env.OHOSSDK = parts[1]
		case EnvAndroidNDK:
			env.AndroidNDK = parts[1]
		}
	}

	switch goos {
	case "linux":
		env.NDKHostTag = "linux-x86_64"
	case "windows":
		env.NDKHostTag = "windows-x86_64"
	default:
		// NDK r23+ ships universal binaries under this name on both Intel and Apple Silicon.
		env.NDKHostTag = "darwin-x86_64"
	}

	return env
}

// Target is a fully resolved build configuration.
type Target struct {
	Name   string
	Family Family
	// Host is set for the reference build of the build machine.
	Host       bool
	HostTriple string
	CC         string
	CXX        string
	// Env contains the variable overrides passed to runConfigureICU.
	Env           map[string]string
	ConfigureArgs []string
	// RequiresCrossReference is set if configure needs --with-cross-build.
	RequiresCrossReference bool
	// OutputPath is relative to the output directory (i.e. android/arm64-v8a).
	OutputPath string
	StubData   bool
}

// PlatformArg returns the runConfigureICU platform for the target.
func (t *Target) PlatformArg() string {
	return t.Family.PlatformArg()
}

// Resolver turns identifiers into Targets using a table and an explicit environment.
type Resolver struct {
	table *Table
	env   Environment
}

// NewResolver creates a new resolver. A nil table selects DefaultTable().
func NewResolver(table *Table, env Environment) *Resolver {
	if table == nil {
		table = DefaultTable()
	}

	return &Resolver{table: table, env: env}
}

// Table returns the table used by the resolver.
func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve maps a single identifier to its build configuration.
func (r *Resolver) Resolve(name string) (*Target, error) {
	spec, ok := r.table.Get(name)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownTarget, "target %q is not supported", name)
	}

	target := &Target{
		Name:                   spec.Name,
		Family:                 spec.Family,
		HostTriple:             spec.Triple,
		ConfigureArgs:          append([]string{}, spec.ConfigureArgs...),
		RequiresCrossReference: spec.Triple != "",
		StubData:               spec.StubData,
		Env:                    map[string]string{},
	}

	if spec.Name == HostName {
		target.Host = true
		family, err := hostFamily(r.env.HostOS, spec.Family)
		if err != nil {
			return nil, err
		}
		target.Family = family
		return target, nil
	}

	target.OutputPath = path.Join(spec.Family.Group(), spec.Arch)
	cflags := append([]string{"-O2", "-fPIC"}, CollationFlags...)
	if spec.ExtraFlags != "" {
		cflags = append(cflags, spec.ExtraFlags)
	}
	ldflags := "-fPIC"

	vars := map[string]string{
		"ARCH":     spec.Arch,
		"TRIPLE":   spec.Triple,
		"API":      fmt.Sprint(spec.API),
		"NDK_HOST": r.env.NDKHostTag,
	}

	switch spec.Toolchain {
	case ToolchainApple:
		arch := appleArch(spec.Arch)
		cflags = append([]string{"-arch", arch}, cflags...)
		ldflags = "-arch " + arch
	case ToolchainZig:
		target.CC = "zig cc -target " + spec.Triple
		target.CXX = "zig c++ -target " + spec.Triple
	case ToolchainOHOS:
		sdk := r.env.OHOSSDK
		if sdk == "" {
			sdk = DefaultOHOSSDK
		}
		llvmBin := sdk + "/default/openharmony/native/llvm/bin"
		sysroot := sdk + "/default/openharmony/native/sysroot"
		vars["SDK"] = sdk
		vars["SYSROOT"] = sysroot

		target.CC = fmt.Sprintf("%s/clang --target=%s --sysroot=%s", llvmBin, spec.Triple, sysroot)
		target.CXX = fmt.Sprintf("%s/clang++ --target=%s --sysroot=%s", llvmBin, spec.Triple, sysroot)
	case ToolchainNDK:
		if r.env.AndroidNDK == "" {
			return nil, eris.Wrapf(ErrMissingEnv, "%s must be set to a valid Android NDK path (required by %s)", EnvAndroidNDK, spec.Name)
		}
		llvmBin := fmt.Sprintf("%s/toolchains/llvm/prebuilt/%s/bin", r.env.AndroidNDK, r.env.NDKHostTag)
		vars["NDK"] = r.env.AndroidNDK

		target.CC = fmt.Sprintf("%s/%s%d-clang", llvmBin, spec.Triple, spec.API)
		target.CXX = fmt.Sprintf("%s/%s%d-clang++", llvmBin, spec.Triple, spec.API)
	}

	if spec.CC != "" {
		target.CC = expandVars(spec.CC, vars)
	}
	if spec.CXX != "" {
		target.CXX = expandVars(spec.CXX, vars)
	}

	if target.CC != "" {
		target.Env["CC"] = target.CC
	}
	if target.CXX != "" {
		target.Env["CXX"] = target.CXX
	}

	joined := strings.Join(cflags, " ")
	target.Env["CFLAGS"] = joined
	target.Env["CXXFLAGS"] = joined
	target.Env["LDFLAGS"] = ldflags

	return target, nil
}

// ResolveAll resolves every identifier or none of them. Duplicates and the host are rejected
// since the host build always runs first on its own.
func (r *Resolver) ResolveAll(names []string) ([]*Target, error) {
	seen := make(map[string]bool, len(names))
	result := make([]*Target, 0, len(names))

	for _, name := range names {
		if name == HostName {
			return nil, eris.Errorf("%s is always built first and can't be listed as a target", HostName)
		}

		if seen[name] {
			return nil, eris.Errorf("target %s was listed more than once", name)
		}
		seen[name] = true

		target, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		result = append(result, target)
	}

	return result, nil
}

func appleArch(arch string) string {
	if arch == "aarch64" {
		return "arm64"
	}
	return arch
}

// hostFamily picks the platform of the host build. An empty goos keeps the family of the table row.
func hostFamily(goos string, fallback Family) (Family, error) {
	switch goos {
	case "darwin":
		return FamilyMacOS, nil
	case "linux":
		return FamilyLinux, nil
	case "":
		return fallback, nil
	}
	return "", eris.Wrapf(ErrUnsupportedHost, "can't build ICU on %s (only darwin and linux are supported)", goos)
}

var varMatcher = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

func expandVars(input string, vars map[string]string) string {
	return varMatcher.ReplaceAllStringFunc(input, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})
}
