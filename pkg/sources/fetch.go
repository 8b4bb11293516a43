package sources

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/ngld/icu-build/pkg/buildlog"
)

// ErrChecksum is returned if a download doesn't match the checksum from the manifest.
var ErrChecksum = eris.New("checksum mismatch")

// FileSpec describes a single download.
type FileSpec struct {
	URL    string
	Dest   string
	Sha256 string
}

// Manifest lists the files the build needs. {VAR} placeholders in URLs are replaced with Vars.
type Manifest struct {
	Vars  map[string]string
	Files map[string]FileSpec
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, []byte, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Could not open file %s.", path)
	}

	var manifest Manifest
	err = yaml.Unmarshal(data, &manifest)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Failed to parse %s.", path)
	}

	return &manifest, data, nil
}

// Names returns the file names in a stable order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var varMatcher = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

// ExpandURL replaces all placeholders in the URL of name.
func (m *Manifest) ExpandURL(name string) string {
	return varMatcher.ReplaceAllStringFunc(m.Files[name].URL, func(varName string) string {
		return m.Vars[varName[1:len(varName)-1]]
	})
}

// ProgressBar is the subset of *progressbar.ProgressBar used while downloading.
type ProgressBar interface {
	io.Writer
	Finish() error
}

// DefaultProgressBar renders a byte counter on stdout, or nothing on CI.
func DefaultProgressBar(length int64, desc string) ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// Fetcher downloads the files listed in a manifest.
type Fetcher struct {
	Root   string
	Client *http.Client
	// NewBar creates the progress display for a single download.
	NewBar func(length int64, desc string) ProgressBar
	// Update records new checksums instead of failing on mismatches.
	Update bool
}

// NewFetcher returns a Fetcher with sensible defaults.
func NewFetcher(root string) *Fetcher {
	return &Fetcher{
		Root: root,
		Client: &http.Client{
			Timeout: time.Minute * 30,
		},
		NewBar: DefaultProgressBar,
	}
}

// StampPath returns the path of the stamp file belonging to the manifest at manifestPath.
func StampPath(manifestPath string) string {
	return strings.TrimSuffix(manifestPath, filepath.Ext(manifestPath)) + ".stamps"
}

func readStamps(path string) (map[string]string, error) {
	stamps := map[string]string{}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "Failed to read stamps file %s.", path)
	}

	err = json.Unmarshal(data, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse JSON file %s.", path)
	}
	return stamps, nil
}

// Fetch downloads every file from the manifest at manifestPath that changed since the last run.
// It returns the names of the downloaded files.
func (f *Fetcher) Fetch(ctx context.Context, manifestPath string) ([]string, error) {
	manifest, raw, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	stampPath := StampPath(manifestPath)
	stamps, err := readStamps(stampPath)
	if err != nil {
		return nil, err
	}

	fetched := []string{}
	changes := map[string]string{}
	for _, name := range manifest.Names() {
		if err = ctx.Err(); err != nil {
			break
		}

		var digest string
		var done bool
		digest, done, err = f.fetchFile(ctx, manifest, name, stamps)
		if err != nil {
			break
		}

		if done {
			fetched = append(fetched, name)
			if digest != manifest.Files[name].Sha256 {
				changes[name] = digest
			}
		}
	}

	// Persist the stamps even on failure so completed downloads aren't repeated.
	stampData, jErr := json.MarshalIndent(stamps, "", "  ")
	if jErr == nil {
		jErr = ioutil.WriteFile(stampPath, stampData, 0660)
	}
	if jErr != nil {
		buildlog.Log(ctx).Error().Err(jErr).Msgf("Failed to write %s", stampPath)
	}

	if err != nil {
		return fetched, err
	}

	if len(changes) > 0 {
		updated, err := UpdateChecksums(raw, changes)
		if err != nil {
			return fetched, err
		}

		err = ioutil.WriteFile(manifestPath, updated, 0660)
		if err != nil {
			return fetched, eris.Wrapf(err, "Failed to write %s", manifestPath)
		}
		buildlog.Log(ctx).Info().Str("path", manifestPath).Msgf("Updated %d checksum(s)", len(changes))
	}

	return fetched, nil
}

func (f *Fetcher) fetchFile(ctx context.Context, manifest *Manifest, name string, stamps map[string]string) (string, bool, error) {
	meta := manifest.Files[name]
	url := manifest.ExpandURL(name)
	logger := buildlog.Log(ctx)

	if meta.Dest == "" {
		return "", false, eris.Errorf("File %s doesn't have a destination", name)
	}

	dest := meta.Dest
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(f.Root, dest)
	}

	_, err := os.Stat(dest)
	destExists := err == nil

	stampToken := url + "#" + meta.Sha256
	if stamp, ok := stamps[name]; ok && stamp == stampToken && destExists && !f.Update {
		logger.Debug().Msgf("%s is up to date", name)
		return meta.Sha256, false, nil
	}

	if meta.Sha256 == "" && !f.Update {
		return "", false, eris.Errorf("File %s doesn't have a checksum", name)
	}

	logger.Info().Str("path", dest).Msgf("Downloading %s", url)
	err = os.MkdirAll(filepath.Dir(dest), 0770)
	if err != nil {
		return "", false, eris.Wrapf(err, "Failed to create %s", filepath.Dir(dest))
	}

	tmpPath := dest + ".tmp"
	handle, err := os.Create(tmpPath)
	if err != nil {
		return "", false, eris.Wrapf(err, "Failed to create %s", tmpPath)
	}
	defer func() {
		handle.Close()
		os.Remove(tmpPath)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, eris.Wrapf(err, "Invalid URL %s", url)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", false, eris.Wrapf(err, "Failed to start download for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, eris.Errorf("Download of %s failed with status %s", url, resp.Status)
	}

	hash := sha256.New()
	bar := f.NewBar(resp.ContentLength, "     download")
	_, err = io.Copy(io.MultiWriter(handle, hash, bar), resp.Body)
	bar.Finish()
	if err != nil {
		return "", false, eris.Wrapf(err, "Failed during download of %s", url)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != meta.Sha256 {
		if !f.Update {
			return "", false, eris.Wrapf(ErrChecksum, "%s: expected %s but got %s", name, meta.Sha256, digest)
		}
		logger.Warn().Msgf("Updating checksum for %s", name)
	}

	err = handle.Close()
	if err != nil {
		return "", false, eris.Wrapf(err, "Failed to write %s", tmpPath)
	}

	err = os.Rename(tmpPath, dest)
	if err != nil {
		return "", false, eris.Wrapf(err, "Failed to move %s to %s", tmpPath, dest)
	}

	stamps[name] = url + "#" + digest
	return digest, true, nil
}

// UpdateChecksums rewrites the sha256 fields of the given files in the raw manifest while keeping
// comments and ordering intact.
func UpdateChecksums(raw []byte, changes map[string]string) ([]byte, error) {
	var doc yaml.Node
	err := yaml.Unmarshal(raw, &doc)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to parse manifest")
	}

	if len(doc.Content) < 1 {
		return nil, eris.New("Manifest is empty")
	}

	files := mappingValue(doc.Content[0], "files")
	if files == nil {
		return nil, eris.New("Manifest has no files section")
	}

	for name, checksum := range changes {
		entry := mappingValue(files, name)
		if entry == nil || entry.Kind != yaml.MappingNode {
			return nil, eris.Errorf("Failed to find the section for %s!", name)
		}

		value := mappingValue(entry, "sha256")
		if value == nil {
			entry.Content = append(entry.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "sha256"},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: checksum},
			)
		} else {
			value.Kind = yaml.ScalarNode
			value.Tag = "!!str"
			value.Value = checksum
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	err = encoder.Encode(&doc)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to encode manifest")
	}
	encoder.Close()

	return buf.Bytes(), nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	for idx := 0; idx+1 < len(node.Content); idx += 2 {
		if node.Content[idx].Value == key {
			return node.Content[idx+1]
		}
	}
	return nil
}
