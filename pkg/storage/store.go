// Package storage persists the component registry: a bbolt database
// holding the durable binary snapshot (current_state.components), plus the
// newline-delimited text manifests (artefacts, services, hosts) and the
// one-line statusline summary. One bucket, JSON-encoded values keyed by
// URI, truncated and rewritten wholesale on every write: a fresh status
// run always fully replaces the bucket's contents rather than upserting
// individual keys.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/shepherd/pkg/component"
)

var bucketComponents = []byte("components")

// componentRecord is the JSON shape a Component is snapshotted into. The
// concrete Go types (Host, Service, ...) aren't reconstructed from it —
// callers that need the live dependency graph re-run status; this is
// read-only historical state.
type componentRecord struct {
	Kind     component.Kind  `json:"kind"`
	URI      string          `json:"uri"`
	State    component.State `json:"state"`
	Needs    []string        `json:"needs"`
	NeededBy []string        `json:"needed_by"`
	Dump     string          `json:"dump"`
}

// Store wraps the bbolt handle used for the component snapshot.
type Store struct {
	db     *bolt.DB
	outDir string
}

// Open opens (creating if necessary) the bbolt database under outDir and
// ensures the components bucket exists.
func Open(outDir string) (*Store, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating out-dir: %w", err)
	}
	dbPath := filepath.Join(outDir, "current_state.components")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", dbPath, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketComponents)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, outDir: outDir}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// HasSnapshot reports whether a prior status run has persisted any
// components. Verbs that refuse to run without status information (ignore,
// unignore) consult this before doing anything else.
func (s *Store) HasSnapshot() bool {
	has := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketComponents); b != nil && b.Stats().KeyN > 0 {
			has = true
		}
		return nil
	})
	return has
}

// SaveRegistry truncates the components bucket and rewrites it with every
// component in r, then writes the text manifests and statusline alongside
// it, matching "a new status invocation replaces the registry".
func (s *Store) SaveRegistry(r *component.Registry) error {
	all := r.All()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketComponents); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketComponents)
		if err != nil {
			return err
		}
		for _, c := range all {
			rec := componentRecord{
				Kind:     c.Kind(),
				URI:      c.URI(),
				State:    c.State(),
				Needs:    sortedKeys(c.Needs()),
				NeededBy: sortedKeys(c.NeededBy()),
				Dump:     c.Dump(),
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.URI()), data); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.writeManifests(all); err != nil {
		return err
	}
	return s.writeStatusline(all)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// writeManifests writes artefacts/services/hosts as newline-delimited URI
// lists.
func (s *Store) writeManifests(all []component.Component) error {
	manifests := map[string][]string{"artefacts": nil, "services": nil, "hosts": nil}
	for _, c := range all {
		switch c.Kind() {
		case component.KindArtefact:
			manifests["artefacts"] = append(manifests["artefacts"], c.URI())
		case component.KindService, component.KindReadonlyService:
			manifests["services"] = append(manifests["services"], c.URI())
		case component.KindHost, component.KindUnreachableHost, component.KindIgnoredHost:
			manifests["hosts"] = append(manifests["hosts"], c.URI())
		}
	}
	for name, uris := range manifests {
		sort.Strings(uris)
		if err := WriteTextFile(filepath.Join(s.outDir, name), joinLines(uris)); err != nil {
			return err
		}
	}
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

// writeStatusline emits a one-line human summary of counts per state.
func (s *Store) writeStatusline(all []component.Component) error {
	counts := map[component.State]int{}
	for _, c := range all {
		counts[c.State()]++
	}

	states := []component.State{
		component.StateUp, component.StateDown, component.StateUptodate,
		component.StateUpdateNeeded, component.StateInstalled,
		component.StateMissing, component.StateUnknown,
	}
	line := fmt.Sprintf("%d components", len(all))
	for _, st := range states {
		if counts[st] > 0 {
			line += fmt.Sprintf(", %d %s", counts[st], st)
		}
	}
	line += "\n"
	return WriteTextFile(filepath.Join(s.outDir, "statusline"), line)
}

// WriteTextFile writes content to path, creating parent directories as
// needed. Used both for the manifests/statusline above and for the raw
// per-host status log (<log_file>.<host>.status) written by pkg/status.
func WriteTextFile(path, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// WritePerHostYAML writes current_state_<host>.yaml, the per-host raw
// record.
func WritePerHostYAML(outDir, host string, raw []byte) error {
	return WriteTextFile(filepath.Join(outDir, fmt.Sprintf("current_state_%s.yaml", host)), string(raw))
}
