package forecast

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"paperbot/internal/domain"
)

// ModelFilename is the fixed name of the serialized forest inside the
// model directory.
const ModelFilename = "model.bin"

// schemaVersion tags the serialized layout. Bump when the encoding or the
// feature contract changes shape.
const schemaVersion = 1

// modelFile is the on-disk envelope around a trained forest
type modelFile struct {
	SchemaVersion int     `msgpack:"schema_version"`
	Forest        *Forest `msgpack:"forest"`
}

// Store persists trained forests to disk
type Store struct {
	dir string
	log zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With().Str("component", "model_store").Logger(),
	}
}

// Path returns where the model file lives
func (s *Store) Path() string {
	return filepath.Join(s.dir, ModelFilename)
}

// Save serializes the forest and returns the written path
func (s *Store) Save(f *Forest) (string, error) {
	if f == nil || len(f.Trees) == 0 {
		return "", fmt.Errorf("refusing to save an untrained model")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating model directory: %w", err)
	}

	data, err := msgpack.Marshal(modelFile{SchemaVersion: schemaVersion, Forest: f})
	if err != nil {
		return "", fmt.Errorf("encoding model: %w", err)
	}

	path := s.Path()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing model file: %w", err)
	}

	s.log.Info().Str("path", path).Int("bytes", len(data)).Msg("Model saved")
	return path, nil
}

// Load reads the forest back and verifies it matches the current feature
// set. A model trained against a different feature count is unusable and
// must be retrained, never silently applied.
func (s *Store) Load() (*Forest, error) {
	path := s.Path()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("model file not found at %s, train a model first: %w", path, err)
		}
		return nil, fmt.Errorf("reading model file: %w", err)
	}

	var file modelFile
	if err := msgpack.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding model file %s: %w", path, err)
	}
	if file.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("model schema version mismatch (expected %d, found %d), retrain the model: %w",
			schemaVersion, file.SchemaVersion, domain.ErrModelDrift)
	}
	f := file.Forest
	if f == nil || len(f.Trees) == 0 {
		return nil, fmt.Errorf("model file %s contains no trees, retrain the model", path)
	}
	if f.NumFeatures != len(domain.FeatureColumns) {
		return nil, fmt.Errorf("model feature mismatch (expected %d, found %d), retrain the model: %w",
			len(domain.FeatureColumns), f.NumFeatures, domain.ErrModelDrift)
	}

	s.log.Debug().Str("path", path).Int("trees", len(f.Trees)).Msg("Model loaded")
	return f, nil
}
