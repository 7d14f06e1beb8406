// Package registry provides versioned persistence of trained model artifacts
// and their evaluation metrics, and arbitrates which version is current.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/model"
)

// ErrNotFound indicates no current artifact exists for a model type.
var ErrNotFound = eris.New("registry: no model version found")

const (
	modelFile   = "model.json"
	metricsFile = "metrics.json"
	currentFile = "current"
)

// Manager stores artifacts on the filesystem under dir/<model_type>/<version>/
// with a per-type current pointer swapped atomically via rename. The storage
// medium stays behind this type; callers only see model types and versions.
type Manager struct {
	dir string
	mu  sync.Mutex
}

// NewManager creates a manager rooted at dir, creating it as needed.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, eris.New("registry: empty artifact dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "registry: create dir %s", dir)
	}
	return &Manager{dir: dir}, nil
}

// metricsRecord is what metrics.json holds for one version.
type metricsRecord struct {
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

// SaveModel allocates the next version for the model type, persists the
// serialized state and metrics, and atomically marks it current. A failed or
// partial write never replaces a valid current pointer.
func (m *Manager) SaveModel(modelType model.ModelType, state []byte, metrics map[string]float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, err := m.versions(modelType)
	if err != nil {
		return 0, err
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}

	versionDir := filepath.Join(m.dir, string(modelType), strconv.Itoa(next))
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "registry: create version dir %s", versionDir)
	}

	if err := os.WriteFile(filepath.Join(versionDir, modelFile), state, 0o644); err != nil {
		return 0, eris.Wrapf(err, "registry: write model %s v%d", modelType, next)
	}
	rec := metricsRecord{Metrics: metrics, CreatedAt: time.Now().UTC()}
	recData, err := json.Marshal(rec)
	if err != nil {
		return 0, eris.Wrap(err, "registry: marshal metrics")
	}
	if err := os.WriteFile(filepath.Join(versionDir, metricsFile), recData, 0o644); err != nil {
		return 0, eris.Wrapf(err, "registry: write metrics %s v%d", modelType, next)
	}

	// Swap the current pointer last, via temp file + rename, so readers never
	// observe a partially written version.
	if err := m.setCurrent(modelType, next); err != nil {
		return 0, err
	}

	zap.L().Info("registry: saved model version",
		zap.String("model_type", string(modelType)),
		zap.Int("version", next),
	)
	return next, nil
}

// LoadModel returns the current version's serialized state. Fails with
// ErrNotFound when no version exists for the type.
func (m *Manager) LoadModel(modelType model.ModelType) ([]byte, int, error) {
	version, err := m.currentVersion(modelType)
	if err != nil {
		return nil, 0, err
	}
	path := filepath.Join(m.dir, string(modelType), strconv.Itoa(version), modelFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "registry: read model %s v%d", modelType, version)
	}
	return data, version, nil
}

// ModelMetrics returns the stored metrics for the current version.
func (m *Manager) ModelMetrics(modelType model.ModelType) (map[string]float64, error) {
	version, err := m.currentVersion(modelType)
	if err != nil {
		return nil, err
	}
	rec, err := m.readMetrics(modelType, version)
	if err != nil {
		return nil, err
	}
	return rec.Metrics, nil
}

// Available reports whether a current artifact exists for the type.
func (m *Manager) Available(modelType model.ModelType) bool {
	_, err := m.currentVersion(modelType)
	return err == nil
}

// CurrentCreatedAt returns when the current version for the type was saved.
func (m *Manager) CurrentCreatedAt(modelType model.ModelType) (time.Time, error) {
	version, err := m.currentVersion(modelType)
	if err != nil {
		return time.Time{}, err
	}
	rec, err := m.readMetrics(modelType, version)
	if err != nil {
		return time.Time{}, err
	}
	return rec.CreatedAt, nil
}

// ListVersions returns all stored versions for the type, oldest first.
func (m *Manager) ListVersions(modelType model.ModelType) ([]model.ArtifactInfo, error) {
	versions, err := m.versions(modelType)
	if err != nil {
		return nil, err
	}
	current, _ := m.currentVersion(modelType)

	infos := make([]model.ArtifactInfo, 0, len(versions))
	for _, v := range versions {
		info := model.ArtifactInfo{
			ModelType: modelType,
			Version:   v,
			Current:   v == current,
		}
		if rec, err := m.readMetrics(modelType, v); err == nil {
			info.Metrics = rec.Metrics
			info.CreatedAt = rec.CreatedAt
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Prune deletes all non-current versions beyond the newest keep, returning
// the number removed. The current version is never pruned.
func (m *Manager) Prune(modelType model.ModelType, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, err := m.versions(modelType)
	if err != nil {
		return 0, err
	}
	current, _ := m.currentVersion(modelType)

	removed := 0
	if keep < 1 {
		keep = 1
	}
	cutoff := len(versions) - keep
	for i, v := range versions {
		if i >= cutoff || v == current {
			continue
		}
		dir := filepath.Join(m.dir, string(modelType), strconv.Itoa(v))
		if err := os.RemoveAll(dir); err != nil {
			return removed, eris.Wrapf(err, "registry: prune %s v%d", modelType, v)
		}
		removed++
	}
	if removed > 0 {
		zap.L().Info("registry: pruned versions",
			zap.String("model_type", string(modelType)),
			zap.Int("removed", removed),
		)
	}
	return removed, nil
}

func (m *Manager) versions(modelType model.ModelType) ([]int, error) {
	typeDir := filepath.Join(m.dir, string(modelType))
	entries, err := os.ReadDir(typeDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read dir %s", typeDir)
	}

	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, convErr := strconv.Atoi(e.Name()); convErr == nil {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

func (m *Manager) currentVersion(modelType model.ModelType) (int, error) {
	path := filepath.Join(m.dir, string(modelType), currentFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, eris.Wrapf(ErrNotFound, "%s", modelType)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "registry: read current pointer for %s", modelType)
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, eris.Wrapf(err, "registry: parse current pointer for %s", modelType)
	}
	return v, nil
}

func (m *Manager) setCurrent(modelType model.ModelType, version int) error {
	typeDir := filepath.Join(m.dir, string(modelType))
	tmp := filepath.Join(typeDir, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(version)), 0o644); err != nil {
		return eris.Wrapf(err, "registry: write current pointer for %s", modelType)
	}
	if err := os.Rename(tmp, filepath.Join(typeDir, currentFile)); err != nil {
		return eris.Wrapf(err, "registry: swap current pointer for %s", modelType)
	}
	return nil
}

func (m *Manager) readMetrics(modelType model.ModelType, version int) (*metricsRecord, error) {
	path := filepath.Join(m.dir, string(modelType), strconv.Itoa(version), metricsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read metrics %s v%d", modelType, version)
	}
	var rec metricsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(err, "registry: unmarshal metrics %s v%d", modelType, version)
	}
	return &rec, nil
}
