package manifest

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/apluslms/static-file-host/internal/syncerr"
)

// Tolerance absorbs precision lost when timestamps travel as floats.
const Tolerance = int64(time.Microsecond)

// DefaultIndexFile is the entry point whose modTime versions a whole tree.
const DefaultIndexFile = "index.html"

// Newer reports whether a is strictly newer than b.
func Newer(a, b int64) bool {
	return a-b > Tolerance
}

// SameTime reports whether a and b are equal within Tolerance.
func SameTime(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= Tolerance
}

// Delta partitions the paths of a client and a server manifest.
type Delta struct {
	New     Manifest `json:"files_new"`
	Updated Manifest `json:"files_update"`
	Keep    []string `json:"files_keep"`
	Remove  []string `json:"files_remove"`
}

// Uploads returns every path the client has to send, in lexical order.
func (d *Delta) Uploads() []string {
	paths := make([]string, 0, len(d.New)+len(d.Updated))
	paths = append(paths, d.New.Paths()...)
	paths = append(paths, d.Updated.Paths()...)
	sort.Strings(paths)
	return paths
}

func (d *Delta) HasUploads() bool {
	return len(d.New)+len(d.Updated) > 0
}

// Apply returns base with the delta merged in: new and updated entries set,
// removed entries dropped. base is not modified.
func (d *Delta) Apply(base Manifest) Manifest {
	merged := base.Clone()
	for p, e := range d.New {
		merged[p] = e
	}
	for p, e := range d.Updated {
		merged[p] = e
	}
	for _, p := range d.Remove {
		delete(merged, p)
	}
	return merged
}

// Diff compares a client manifest against the stored server manifest.
// A path present on both sides is updated only when the client copy is
// strictly newer.
func Diff(client, server Manifest) *Delta {
	clientKeys := mapset.NewThreadUnsafeSetWithSize[string](len(client))
	for p := range client {
		clientKeys.Add(p)
	}
	serverKeys := mapset.NewThreadUnsafeSetWithSize[string](len(server))
	for p := range server {
		serverKeys.Add(p)
	}

	delta := &Delta{
		New:     Manifest{},
		Updated: Manifest{},
		Keep:    []string{},
		Remove:  serverKeys.Difference(clientKeys).ToSlice(),
	}

	clientKeys.Difference(serverKeys).Each(func(p string) bool {
		delta.New[p] = client[p]
		return false
	})

	clientKeys.Intersect(serverKeys).Each(func(p string) bool {
		if Newer(client[p].ModTime, server[p].ModTime) {
			delta.Updated[p] = client[p]
		} else {
			delta.Keep = append(delta.Keep, p)
		}
		return false
	})

	sort.Strings(delta.Keep)
	sort.Strings(delta.Remove)
	return delta
}

// Version returns the modTime that stands for the whole tree: the index
// file's when indexFile is set, otherwise the newest entry.
func Version(m Manifest, indexFile string) (int64, bool) {
	if indexFile == "" {
		return m.Newest(), len(m) > 0
	}
	e, ok := m[indexFile]
	return e.ModTime, ok
}

// Plan is the outcome of a diff request.
type Plan struct {
	Exists  bool
	Delta   *Delta
	Claimed int64 // client tree version
	Base    int64 // server tree version the delta was computed against
}

// NewPlan runs the freshness guard and the diff. When the collection does
// not exist yet every client path is new and no freshness check applies.
func NewPlan(client, server Manifest, exists bool, indexFile string) (*Plan, error) {
	claimed, hasIndex := Version(client, indexFile)

	if !exists {
		return &Plan{
			Exists:  false,
			Delta:   &Delta{New: client.Clone(), Updated: Manifest{}, Keep: []string{}, Remove: []string{}},
			Claimed: claimed,
		}, nil
	}

	if !hasIndex && indexFile == "" {
		return nil, syncerr.Errorf(syncerr.KindManifest, "diff", "client manifest is empty")
	}
	if !hasIndex {
		return nil, syncerr.Errorf(syncerr.KindManifest, "diff", "client manifest has no %q entry", indexFile)
	}

	base, _ := Version(server, indexFile)
	if !Newer(claimed, base) {
		return nil, syncerr.Errorf(syncerr.KindStaleVersion, "diff",
			"client version %s is not newer than published version %s",
			time.Unix(0, claimed).UTC().Format(time.RFC3339Nano),
			time.Unix(0, base).UTC().Format(time.RFC3339Nano))
	}

	return &Plan{
		Exists:  true,
		Delta:   Diff(client, server),
		Claimed: claimed,
		Base:    base,
	}, nil
}
