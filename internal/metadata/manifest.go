package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const metadataFile = "metadata.json"

// DataFile describes a single export file written by a run.
type DataFile struct {
	Path        string            `json:"path"`
	Format      string            `json:"format"`
	FileSize    int64             `json:"file_size_in_bytes"`
	RecordCount int64             `json:"record_count"`
	Partition   map[string]string `json:"partition"`
}

// ManifestEntry is one file recorded by a snapshot.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot is one export run of a transaction table.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	RunID       string `json:"run-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
	Records     int64  `json:"added-records"`
}

// TableMetadata is the manifest index of one transaction table.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Table             string     `json:"table"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator records export snapshots for a table under basePath/metadata.
// Snapshots of earlier runs are kept.
type Generator struct {
	basePath  string
	tableName string
	tableUUID string
	snapshots []Snapshot
}

// NewGenerator returns a generator rooted at basePath, continuing the
// metadata of a previous run when one exists.
func NewGenerator(basePath, tableName string) (*Generator, error) {
	g := &Generator{basePath: basePath, tableName: tableName}

	b, err := os.ReadFile(g.metadataPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		g.tableUUID = uuid.NewString()
		return g, nil
	case err != nil:
		return nil, fmt.Errorf("read table metadata: %w", err)
	}

	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		return nil, fmt.Errorf("decode table metadata: %w", err)
	}
	g.tableUUID = tm.TableUUID
	if g.tableUUID == "" {
		g.tableUUID = uuid.NewString()
	}
	g.snapshots = tm.Snapshots
	return g, nil
}

func (g *Generator) TableUUID() string { return g.tableUUID }

func (g *Generator) Snapshots() []Snapshot { return g.snapshots }

func (g *Generator) metadataPath() string {
	return filepath.Join(g.basePath, "metadata", metadataFile)
}

// AddSnapshot writes a manifest listing files and appends a snapshot for it.
func (g *Generator) AddSnapshot(runID string, at time.Time, files []DataFile) (Snapshot, error) {
	snapID := at.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return Snapshot{}, err
	}

	entries := make([]ManifestEntry, 0, len(files))
	var records int64
	for _, df := range files {
		entries = append(entries, ManifestEntry{Status: 1, DataFile: df})
		records += df.RecordCount
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return Snapshot{}, err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		SnapshotID:  snapID,
		RunID:       runID,
		TimestampMs: at.UnixMilli(),
		Manifest:    manifestFile,
		Records:     records,
	}
	g.snapshots = append(g.snapshots, snapshot)
	return snapshot, g.writeTableMetadata()
}

func (g *Generator) writeTableMetadata() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	tm := TableMetadata{
		FormatVersion:     1,
		TableUUID:         g.tableUUID,
		Table:             g.tableName,
		Location:          g.basePath,
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.metadataPath(), b, 0o644)
}
