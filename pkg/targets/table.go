package targets

import (
	"sort"

	"github.com/rotisserie/eris"
)

// Family selects the platform argument passed to runConfigureICU and the output grouping.
type Family string

const (
	FamilyMacOS   Family = "macos"
	FamilyLinux   Family = "linux"
	FamilyOHOS    Family = "ohos"
	FamilyAndroid Family = "android"
)

// PlatformArg returns the platform name understood by runConfigureICU.
func (f Family) PlatformArg() string {
	if f == FamilyMacOS {
		return "MacOSX"
	}

	return "Linux"
}

// Group returns the name of the output directory grouping all targets of this family.
func (f Family) Group() string {
	if f == FamilyMacOS {
		return "osx"
	}

	return string(f)
}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	switch f {
	case FamilyMacOS, FamilyLinux, FamilyOHOS, FamilyAndroid:
		return true
	}
	return false
}

// Toolchain selects how the compiler invocation for a target is derived.
type Toolchain string

const (
	// ToolchainNative leaves the compiler choice to ICU's own defaults.
	ToolchainNative Toolchain = "native"
	// ToolchainApple uses the system clang with -arch.
	ToolchainApple Toolchain = "apple"
	// ToolchainZig uses "zig cc" / "zig c++" with -target.
	ToolchainZig Toolchain = "zig"
	// ToolchainOHOS uses the clang shipped with the OpenHarmony SDK.
	ToolchainOHOS Toolchain = "ohos"
	// ToolchainNDK uses the API level specific clang wrappers from the Android NDK.
	ToolchainNDK Toolchain = "ndk"
)

// Valid reports whether t is one of the known toolchains.
func (t Toolchain) Valid() bool {
	switch t {
	case ToolchainNative, ToolchainApple, ToolchainZig, ToolchainOHOS, ToolchainNDK:
		return true
	}
	return false
}

// HostName is the identifier of the reference build for the build machine itself.
const HostName = "host"

// Spec is one row of the target table.
type Spec struct {
	Name      string
	Family    Family
	Toolchain Toolchain
	// Arch is used for -arch on Apple toolchains and as the last component of the output path.
	Arch string
	// Triple is the --host value. Targets with a triple are cross builds.
	Triple string
	// API is the Android API level baked into the NDK compiler wrapper names.
	API int
	// ConfigureArgs are appended to the runConfigureICU call before the static/shared switches.
	ConfigureArgs []string
	// StubData marks targets whose build doesn't produce libicudata.a in lib/.
	StubData bool
	// CC and CXX replace the derived compiler commands. {VAR} placeholders are expanded.
	CC  string
	CXX string
	// ExtraFlags are appended to CFLAGS and CXXFLAGS.
	ExtraFlags string
}

// Validate checks that the row can be resolved.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return eris.New("target without name")
	}

	if !s.Family.Valid() {
		return eris.Errorf("target %s: unknown family %q", s.Name, s.Family)
	}

	if !s.Toolchain.Valid() {
		return eris.Errorf("target %s: unknown toolchain %q", s.Name, s.Toolchain)
	}

	if s.Name == HostName && s.Toolchain != ToolchainNative {
		return eris.Errorf("target %s must use the %s toolchain", HostName, ToolchainNative)
	}

	if s.Name != HostName && s.Arch == "" {
		return eris.Errorf("target %s: missing arch", s.Name)
	}

	switch s.Toolchain {
	case ToolchainZig, ToolchainOHOS, ToolchainNDK:
		if s.Triple == "" {
			return eris.Errorf("target %s: the %s toolchain requires a triple", s.Name, s.Toolchain)
		}
	}

	if s.Toolchain == ToolchainNDK && s.API < 1 {
		return eris.Errorf("target %s: missing Android API level", s.Name)
	}

	return nil
}

// Table maps target identifiers to their specs while remembering the insertion order.
type Table struct {
	specs map[string]*Spec
	order []string
}

// NewTable creates a table from the given rows.
func NewTable(specs ...*Spec) (*Table, error) {
	t := &Table{specs: make(map[string]*Spec)}
	for _, spec := range specs {
		if err := t.Set(spec); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Set adds the spec or replaces the existing row with the same name.
func (t *Table) Set(spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	if _, ok := t.specs[spec.Name]; !ok {
		t.order = append(t.order, spec.Name)
	}
	t.specs[spec.Name] = spec
	return nil
}

// Get returns the row for name.
func (t *Table) Get(name string) (*Spec, bool) {
	spec, ok := t.specs[name]
	return spec, ok
}

// Names returns all identifiers in insertion order.
func (t *Table) Names() []string {
	return append([]string{}, t.order...)
}

// SortedNames returns all identifiers sorted alphabetically.
func (t *Table) SortedNames() []string {
	names := t.Names()
	sort.Strings(names)
	return names
}

// CrossNames returns every identifier except the host in insertion order.
func (t *Table) CrossNames() []string {
	result := make([]string, 0, len(t.order))
	for _, name := range t.order {
		if name != HostName {
			result = append(result, name)
		}
	}

	return result
}

func androidSpec(name, arch, triple string) *Spec {
	return &Spec{
		Name:          name,
		Family:        FamilyAndroid,
		Toolchain:     ToolchainNDK,
		Arch:          arch,
		Triple:        triple,
		API:           21,
		ConfigureArgs: []string{"--with-data-packaging=archive"},
		StubData:      true,
	}
}

// DefaultTable returns the builtin targets. The order of the rows is the default build order.
func DefaultTable() *Table {
	t, err := NewTable(
		&Spec{Name: HostName, Family: FamilyMacOS, Toolchain: ToolchainNative},
		&Spec{Name: "x86_64-macos", Family: FamilyMacOS, Toolchain: ToolchainApple, Arch: "x86_64"},
		&Spec{Name: "aarch64-macos", Family: FamilyMacOS, Toolchain: ToolchainApple, Arch: "aarch64"},
		&Spec{Name: "x86_64-linux", Family: FamilyLinux, Toolchain: ToolchainZig, Arch: "x86_64", Triple: "x86_64-linux-gnu"},
		&Spec{Name: "amd64-linux", Family: FamilyLinux, Toolchain: ToolchainZig, Arch: "amd64", Triple: "x86_64-linux-gnu"},
		&Spec{Name: "aarch64-linux", Family: FamilyLinux, Toolchain: ToolchainZig, Arch: "aarch64", Triple: "aarch64-linux-gnu"},
		&Spec{Name: "aarch64-ohos", Family: FamilyOHOS, Toolchain: ToolchainOHOS, Arch: "aarch64", Triple: "aarch64-linux-ohos"},
		androidSpec("armv7-android", "armeabi-v7a", "armv7a-linux-androideabi"),
		androidSpec("aarch64-android", "arm64-v8a", "aarch64-linux-android"),
		androidSpec("x86-android", "x86", "i686-linux-android"),
		androidSpec("x86_64-android", "x86_64", "x86_64-linux-android"),
	)
	if err != nil {
		panic(err)
	}

	return t
}

// DefaultOrder returns the builtin cross targets in build order.
func DefaultOrder() []string {
	return DefaultTable().CrossNames()
}
