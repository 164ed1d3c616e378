// Package manifest describes file trees as path-keyed records and compares them.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/utils"
	"github.com/goccy/go-json"
)

const (
	ChecksumPrefix = "sha256:"
	sizePrefix     = "size:"

	// values below this are fractional seconds written by older clients
	secondsCutoff = 1e12
)

// Entry is the state of one file. ModTime is nanoseconds since the Unix epoch.
type Entry struct {
	ModTime   int64  `json:"modTime"`
	Signature string `json:"sizeOrChecksum"`
}

// Checksum returns the hex digest when the signature is a content hash.
func (e Entry) Checksum() (string, bool) {
	if len(e.Signature) > len(ChecksumPrefix) && e.Signature[:len(ChecksumPrefix)] == ChecksumPrefix {
		return e.Signature[len(ChecksumPrefix):], true
	}
	return "", false
}

type wireEntry struct {
	ModTime        json.RawMessage `json:"modTime"`
	MTime          json.RawMessage `json:"mtime"`
	SizeOrChecksum json.RawMessage `json:"sizeOrChecksum"`
	Checksum       json.RawMessage `json:"checksum"`
	Size           json.RawMessage `json:"size"`
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	rawTime := firstPresent(w.ModTime, w.MTime)
	if rawTime == nil {
		return errors.New("missing modTime")
	}
	modTime, err := parseModTime(rawTime)
	if err != nil {
		return err
	}

	sig, err := parseSignature(firstPresent(w.SizeOrChecksum, w.Checksum, w.Size))
	if err != nil {
		return err
	}

	e.ModTime = modTime
	e.Signature = sig
	return nil
}

func firstPresent(raws ...json.RawMessage) json.RawMessage {
	for _, raw := range raws {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			return raw
		}
	}
	return nil
}

// ParseModTime reads a modTime sent as text: integer nanoseconds, or a
// float that is taken as seconds when small enough.
func ParseModTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty modTime")
	}
	return parseModTime(json.RawMessage(s))
}

func parseModTime(raw json.RawMessage) (int64, error) {
	s := string(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid modTime %s", s)
	}
	if math.Abs(f) < secondsCutoff {
		f *= 1e9
	}
	return int64(math.Round(f)), nil
}

func parseSignature(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	size, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid sizeOrChecksum %s", raw)
	}
	return sizePrefix + strconv.FormatInt(size, 10), nil
}

// Manifest maps slash-separated relative paths to entries.
type Manifest map[string]Entry

func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Paths returns the keys in lexical order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Newest returns the largest ModTime in the manifest, 0 when empty.
func (m Manifest) Newest() int64 {
	var newest int64
	for _, e := range m {
		if e.ModTime > newest {
			newest = e.ModTime
		}
	}
	return newest
}

// Validate checks that every key is a clean, visible relative path.
func (m Manifest) Validate() error {
	for p := range m {
		cleaned, err := utils.CleanRelPath(p)
		if err != nil || cleaned != p {
			return fmt.Errorf("invalid path %q", p)
		}
		if utils.HasHiddenElem(p) {
			return fmt.Errorf("hidden path %q", p)
		}
	}
	return nil
}

func (m Manifest) Encode() ([]byte, error) {
	if m == nil {
		m = Manifest{}
	}
	return json.Marshal(m)
}

// Decode parses and validates a client supplied manifest.
func Decode(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, syncerr.E(syncerr.KindManifest, "decode manifest", err)
	}
	if m == nil {
		return nil, syncerr.Errorf(syncerr.KindManifest, "decode manifest", "manifest must be a JSON object")
	}
	if err := m.Validate(); err != nil {
		return nil, syncerr.E(syncerr.KindManifest, "decode manifest", err)
	}
	return m, nil
}

// Load reads a manifest file. A missing file is reported with os.ErrNotExist.
func Load(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// Save writes the manifest through a temp file and rename.
func (m Manifest) Save(path string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}
