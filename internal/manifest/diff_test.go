package manifest

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(modTime int64) Entry {
	return Entry{ModTime: modTime, Signature: fmt.Sprintf("sha256:%d", modTime)}
}

// at is a modTime n seconds after the epoch, far apart relative to Tolerance.
func at(n int64) int64 {
	return n * int64(time.Second)
}

func TestNewPlan_FirstPublish(t *testing.T) {
	client := Manifest{"a.txt": entry(1), "b.txt": entry(2)}

	plan, err := NewPlan(client, nil, false, DefaultIndexFile)
	require.NoError(t, err)

	assert.False(t, plan.Exists)
	assert.Equal(t, client, plan.Delta.New)
	assert.Empty(t, plan.Delta.Updated)
	assert.Empty(t, plan.Delta.Keep)
	assert.Empty(t, plan.Delta.Remove)
}

func TestNewPlan_UpdatedFile(t *testing.T) {
	server := Manifest{"index.html": entry(at(100)), "a.txt": entry(at(100))}
	client := Manifest{"index.html": entry(at(200)), "a.txt": entry(at(200))}

	plan, err := NewPlan(client, server, true, DefaultIndexFile)
	require.NoError(t, err)

	want := &Delta{
		New:     Manifest{},
		Updated: Manifest{"index.html": entry(at(200)), "a.txt": entry(at(200))},
		Keep:    []string{},
		Remove:  []string{},
	}
	if diff := cmp.Diff(want, plan.Delta); diff != "" {
		t.Fatalf("delta mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, at(200), plan.Claimed)
	assert.Equal(t, at(100), plan.Base)
}

func TestNewPlan_RemovedFile(t *testing.T) {
	server := Manifest{"index.html": entry(at(100)), "c.txt": entry(at(50))}
	client := Manifest{"index.html": entry(at(200))}

	plan, err := NewPlan(client, server, true, DefaultIndexFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt"}, plan.Delta.Remove)
	assert.Equal(t, Manifest{"index.html": entry(at(200))}, plan.Delta.Updated)
}

func TestNewPlan_IndexNewerByLessThanTolerance(t *testing.T) {
	server := Manifest{"index.html": entry(at(100))}
	client := Manifest{"index.html": entry(at(100) + Tolerance/2), "new.txt": entry(at(300))}

	_, err := NewPlan(client, server, true, DefaultIndexFile)
	assert.ErrorIs(t, err, syncerr.StaleVersion)
}

func TestNewPlan_StaleVersion(t *testing.T) {
	server := Manifest{"index.html": entry(100)}

	tests := []struct {
		name  string
		index int64
	}{
		{name: "equal", index: 100},
		{name: "equal within tolerance", index: 100 + Tolerance},
		{name: "older", index: 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := Manifest{"index.html": entry(tt.index), "new.txt": entry(500)}
			plan, err := NewPlan(client, server, true, DefaultIndexFile)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, syncerr.StaleVersion)
		})
	}
}

func TestNewPlan_MissingIndex(t *testing.T) {
	server := Manifest{"index.html": entry(100)}
	client := Manifest{"a.txt": entry(500)}

	_, err := NewPlan(client, server, true, DefaultIndexFile)
	assert.ErrorIs(t, err, syncerr.Manifest)

	// first publish does not need the index
	plan, err := NewPlan(client, nil, false, DefaultIndexFile)
	require.NoError(t, err)
	assert.Len(t, plan.Delta.New, 1)
}

func TestNewPlan_NewestEntryWhenNoIndexFile(t *testing.T) {
	server := Manifest{"a.yaml": entry(at(100)), "b.yaml": entry(at(300))}

	_, err := NewPlan(Manifest{"a.yaml": entry(at(250))}, server, true, "")
	assert.ErrorIs(t, err, syncerr.StaleVersion)

	plan, err := NewPlan(Manifest{"a.yaml": entry(at(400)), "b.yaml": entry(at(300))}, server, true, "")
	require.NoError(t, err)
	assert.Equal(t, at(400), plan.Claimed)
	assert.Equal(t, []string{"b.yaml"}, plan.Delta.Keep)
	assert.Contains(t, plan.Delta.Updated, "a.yaml")

	_, err = NewPlan(Manifest{}, server, true, "")
	assert.ErrorIs(t, err, syncerr.Manifest)
}

func TestDiff_Idempotent(t *testing.T) {
	m := Manifest{"index.html": entry(1), "a/b.css": entry(2), "c.js": entry(3)}

	delta := Diff(m, m.Clone())
	assert.Empty(t, delta.New)
	assert.Empty(t, delta.Updated)
	assert.Empty(t, delta.Remove)
	assert.Equal(t, m.Paths(), delta.Keep)
}

func TestDiff_Tolerance(t *testing.T) {
	server := Manifest{"a": entry(1_000_000)}

	delta := Diff(Manifest{"a": entry(1_000_000 + Tolerance)}, server)
	assert.Equal(t, []string{"a"}, delta.Keep)

	delta = Diff(Manifest{"a": entry(1_000_000 + Tolerance + 1)}, server)
	assert.Contains(t, delta.Updated, "a")

	// older client copies are kept, never downgraded
	delta = Diff(Manifest{"a": entry(5)}, server)
	assert.Equal(t, []string{"a"}, delta.Keep)
}

func TestDiff_PartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		client, server := Manifest{}, Manifest{}
		for i := 0; i < rng.Intn(40); i++ {
			p := fmt.Sprintf("f%02d", rng.Intn(30))
			client[p] = entry(rng.Int63n(5) * Tolerance * 2)
		}
		for i := 0; i < rng.Intn(40); i++ {
			p := fmt.Sprintf("f%02d", rng.Intn(30))
			server[p] = entry(rng.Int63n(5) * Tolerance * 2)
		}

		delta := Diff(client, server)

		seen := map[string]int{}
		for p := range delta.New {
			seen[p]++
			assert.NotContains(t, server, p)
		}
		for p := range delta.Updated {
			seen[p]++
			assert.Contains(t, server, p)
		}
		for _, p := range delta.Keep {
			seen[p]++
			assert.Contains(t, server, p)
		}
		for _, p := range delta.Remove {
			seen[p]++
			assert.NotContains(t, client, p)
		}

		for p := range client {
			assert.Equal(t, 1, seen[p], "client path %s", p)
		}
		for p := range server {
			assert.Equal(t, 1, seen[p], "server path %s", p)
		}
		assert.Len(t, seen, len(delta.New)+len(delta.Updated)+len(delta.Keep)+len(delta.Remove))

		// applying the delta to the server manifest yields the client key set
		merged := delta.Apply(server)
		assert.ElementsMatch(t, client.Paths(), merged.Paths())
	}
}

func TestDelta_Uploads(t *testing.T) {
	d := &Delta{
		New:     Manifest{"z.txt": entry(1), "a.txt": entry(1)},
		Updated: Manifest{"m.txt": entry(1)},
	}
	assert.Equal(t, []string{"a.txt", "m.txt", "z.txt"}, d.Uploads())
	assert.True(t, d.HasUploads())
	assert.False(t, (&Delta{}).HasUploads())
}
