package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	storagedriver "github.com/distribution/repro-cas/registry/storage/driver"
)

// InputEntry is one row of a manifest's sorted inputs list.
type InputEntry struct {
	LogicalName string `json:"logical_name"`
	Type        string `json:"type"`
	ID          string `json:"id"`
	Origin      string `json:"origin"`
}

// OutputEntry is one row of a manifest's sorted outputs list.
type OutputEntry struct {
	LogicalName string `json:"logical_name"`
	Type        string `json:"type"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// StepInfo identifies the step a manifest's run executed.
type StepInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	CodeHash string `json:"code_hash"`
}

// ParametersInfo carries the effective parameters, their provenance, and
// their combined digest.
type ParametersInfo struct {
	Effective  map[string]any    `json:"effective"`
	Provenance map[string]string `json:"provenance"`
	Hash       string            `json:"hash"`
}

// EnvironmentInfo carries the environment summary and its digest.
type EnvironmentInfo struct {
	Summary map[string]any `json:"summary"`
	Hash    string         `json:"hash"`
}

// ToolInfo identifies the tool that produced a manifest.
type ToolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Manifest is the durable record of one run, per the data model's manifest
// schema. Fields are declared in the schema's documented order.
type Manifest struct {
	ManifestVersion int             `json:"manifest_version"`
	RunID           string          `json:"run_id"`
	TimestampUTC    string          `json:"timestamp_utc"`
	Step            StepInfo        `json:"step"`
	Parameters      ParametersInfo  `json:"parameters"`
	Environment     EnvironmentInfo `json:"environment"`
	Inputs          []InputEntry    `json:"inputs"`
	Outputs         []OutputEntry   `json:"outputs"`
	Tool            ToolInfo        `json:"tool"`
}

// WriteManifest atomically writes manifest, pretty-printed with a 2-space
// indent, under its run id's manifest path.
func (s *Store) WriteManifest(ctx context.Context, manifest Manifest) error {
	p, err := ManifestPath(manifest.RunID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal manifest %s: %w", manifest.RunID, err)
	}
	if err := s.atomicPut(ctx, p, data); err != nil {
		return fmt.Errorf("store: write manifest %s: %w", manifest.RunID, err)
	}
	return nil
}

// LoadManifest reads back a previously written manifest by run id.
func (s *Store) LoadManifest(ctx context.Context, runID string) (Manifest, error) {
	p, err := ManifestPath(runID)
	if err != nil {
		return Manifest{}, err
	}
	data, err := s.driver.GetContent(ctx, p)
	if err != nil {
		return Manifest{}, fmt.Errorf("store: load manifest %s: %w", runID, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("store: decode manifest %s: %w", runID, err)
	}
	return m, nil
}

// IterManifests lists every manifest currently in the store, walking the
// run-id shard fan-out via the driver's own Walk. Callers must not rely on
// any particular ordering of the result.
func (s *Store) IterManifests(ctx context.Context) ([]Manifest, error) {
	var manifests []Manifest
	err := s.driver.Walk(ctx, manifestsDir, func(fileInfo storagedriver.FileInfo) error {
		if fileInfo.IsDir() {
			return nil
		}
		p := fileInfo.Path()
		if !strings.HasSuffix(p, ".json") {
			return nil
		}
		data, err := s.driver.GetContent(ctx, p)
		if err != nil {
			return nil
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}
		manifests = append(manifests, m)
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return manifests, nil
}

func marshalJSON(v any, indent string) ([]byte, error) {
	if indent == "" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", indent)
}

func unmarshalJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
