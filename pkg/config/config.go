package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// FileName is the optional config file looked up in the project root.
const FileName = "icu-build.toml"

// Config describes all configuration options
type Config struct {
	Download  string `default:"download" usage:"Directory containing the source archive and the data file"`
	Archive   string `default:"icu4c-77_1-src.tgz" usage:"Name of the ICU source archive inside the download directory"`
	DataFile  string `default:"icudt77l.dat" usage:"Name of the ICU data file inside the download directory"`
	SourceDir string `default:"icu" usage:"Directory the source archive is extracted into"`
	OutputDir string `default:"libs" usage:"Directory receiving the collected static libraries"`
	Overlay   string `default:"targets.star" usage:"Optional Starlark file adding or replacing targets"`
	Manifest  string `default:"sources.yml" usage:"Download manifest used by the fetch command"`
	Jobs      int    `default:"8" usage:"Parallel jobs passed to make"`
	Targets   string `usage:"Comma separated list of targets to build (default: all builtin targets)"`
	Log       struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}

	// Root is the project root all relative paths are resolved against. Load always overwrites it
	// since the config file itself is located through it.
	Root string
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object for the given project root and returns a new Loader for this object
func Loader(root string) (*Config, *aconfig.Loader) {
	cfg := Config{}

	files := []string{}
	cfgPath := filepath.Join(root, FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		files = append(files, cfgPath)
	}

	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ICUBUILD",
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration for the project located at root.
func Load(root string) (*Config, error) {
	cfg, loader := Loader(root)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "Failed to load configuration")
	}

	cfg.Root = root
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Jobs < 1 {
		return eris.Errorf(`Invalid value for jobs: %d (must be at least 1)`, cfg.Jobs)
	}

	if cfg.Archive == "" {
		return eris.New(`archive must not be empty`)
	}

	if cfg.DataFile == "" {
		return eris.New(`datafile must not be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// TargetList splits the Targets option. An empty result means "all builtin targets".
func (cfg *Config) TargetList() []string {
	result := []string{}
	for _, name := range strings.Split(cfg.Targets, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			result = append(result, name)
		}
	}

	return result
}

// Path resolves a config path relative to the project root.
func (cfg *Config) Path(parts ...string) string {
	if len(parts) > 0 && filepath.IsAbs(parts[0]) {
		return filepath.Join(parts...)
	}

	return filepath.Join(append([]string{cfg.Root}, parts...)...)
}

// ArchivePath returns the absolute path of the source archive.
func (cfg *Config) ArchivePath() string {
	return cfg.Path(cfg.Download, cfg.Archive)
}

// DataFilePath returns the absolute path of the companion data file.
func (cfg *Config) DataFilePath() string {
	return cfg.Path(cfg.Download, cfg.DataFile)
}

// ICUSource returns the directory containing runConfigureICU.
func (cfg *Config) ICUSource() string {
	return cfg.Path(cfg.SourceDir, "source")
}
