package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseDir is where run artifacts land unless configured otherwise.
const DefaultBaseDir = ".pomelo"

// RunContext holds the artifact directory for one specification run.
type RunContext struct {
	ID        string    // Short unique identifier (8 chars)
	Timestamp time.Time // When the run started
	Dir       string    // Full path to the run directory
}

// New creates a run context under baseDir and initializes its directory,
// e.g. .pomelo/runs/2026-08-23_143052_a1b2c3d4/.
func New(baseDir string) (*RunContext, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	now := time.Now()
	shortID := uuid.New().String()[:8]

	dirName := fmt.Sprintf("%s_%s", now.Format("2006-01-02_150405"), shortID)
	runDir := filepath.Join(baseDir, "runs", dirName)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	return &RunContext{
		ID:        shortID,
		Timestamp: now,
		Dir:       runDir,
	}, nil
}

// WriteResult serializes v as pretty JSON into the run directory.
func (r *RunContext) WriteResult(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(r.Dir, name+".json"), data, 0644)
}

// LogPath returns the full path for a log file.
func (r *RunContext) LogPath(name string) string {
	return filepath.Join(r.Dir, name+".log")
}

// CreateLogFile creates a log file and returns the file handle.
func (r *RunContext) CreateLogFile(name string) (*os.File, error) {
	return os.Create(r.LogPath(name))
}

// AppendLog appends content to a log file.
func (r *RunContext) AppendLog(name string, content []byte) error {
	f, err := os.OpenFile(r.LogPath(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(content)
	return err
}

// RunInfo describes one stored run directory.
type RunInfo struct {
	Name      string     `json:"name"`
	Dir       string     `json:"dir"`
	Timestamp time.Time  `json:"timestamp"`
	Artifacts []Artifact `json:"artifacts"`
}

// Artifact is one file inside a run directory.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ListRuns returns all run directories under baseDir, newest first.
func ListRuns(baseDir string) ([]RunInfo, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	runsDir := filepath.Join(baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunInfo{}, nil
		}
		return nil, err
	}

	var runs []RunInfo
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		runDir := filepath.Join(runsDir, entry.Name())
		artifacts, _ := listArtifacts(runDir)

		runs = append(runs, RunInfo{
			Name:      entry.Name(),
			Dir:       runDir,
			Timestamp: info.ModTime(),
			Artifacts: artifacts,
		})
	}

	return runs, nil
}

func listArtifacts(runDir string) ([]Artifact, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		artifacts = append(artifacts, Artifact{
			Name: entry.Name(),
			Path: filepath.Join(runDir, entry.Name()),
			Size: info.Size(),
		})
	}

	return artifacts, nil
}
