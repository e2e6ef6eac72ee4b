package training

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"gonum.org/v1/gonum/mat"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// schemaVersion is the model artifact format version, checked by loaders
// against their supported range (spec.md §6: metadata.json is the source
// of truth for load-time validation).
const schemaVersion = "1.0.0"

// supportedSchemaRange is the set of on-disk artifact versions this build
// can load. It widens only when a loader gains a migration path for an
// older layout; it never shrinks silently.
var supportedSchemaRange = semver.MustParseConstraint("^1.0.0")

// weightsBlob is the gob-encoded representation of a trained Network.
// gob is the standard library's own struct-serialization format; no
// example repo in the pack imports a tensor/model serialization library,
// so this stays on the standard library and lets zstd do the space
// savings.
type weightsBlob struct {
	Activations []string
	Dropout     float64
	Classes     []string
	LayerRows   []int
	LayerCols   []int
	Weights     [][]float64
	Biases      [][]float64
}

func marshalNetwork(net *Network) ([]byte, error) {
	blob := weightsBlob{Dropout: net.Dropout}
	for _, c := range net.Classes {
		blob.Classes = append(blob.Classes, string(c))
	}
	for _, l := range net.Layers {
		rows, cols := l.W.Dims()
		blob.LayerRows = append(blob.LayerRows, rows)
		blob.LayerCols = append(blob.LayerCols, cols)
		blob.Activations = append(blob.Activations, l.Activation)
		blob.Weights = append(blob.Weights, append([]float64{}, l.W.RawMatrix().Data...))
		blob.Biases = append(blob.Biases, append([]float64{}, l.B.RawMatrix().Data...))
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, errors.Wrap(err, errors.ModelError, "encoding model weights")
	}
	return buf.Bytes(), nil
}

// persistResult is what a completed train run hands to TrainingPipeline
// for atomic persistence.
type persistResult struct {
	ModelPath string
	Hash      string
}

// persistArtifact atomically writes the model directory: weights.bin
// (zstd-compressed gob blob), config.yaml (the originating StrategyConfig,
// for reproducibility), and metadata.json (schema version, content hash,
// feature/label schema). Atomicity is achieved by building the whole
// directory under a temp name on the same filesystem and renaming it into
// place in one step (spec.md §4.6 step 10) — no example repo shows this
// exact pattern, but it is the standard Go idiom for atomic directory
// publication, generalizing the teacher's plain os.WriteFile persistence
// (internal/risk/risk_reporter.go) to a multi-file, rename-guarded unit.
func persistArtifact(modelDir string, net *Network, artifact types.ModelArtifact) (persistResult, error) {
	raw, err := marshalNetwork(net)
	if err != nil {
		return persistResult{}, err
	}

	hashSum := blake2b.Sum256(raw)
	hash := hex.EncodeToString(hashSum[:])

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return persistResult{}, errors.Wrap(err, errors.ModelError, "creating zstd encoder")
	}
	compressed := encoder.EncodeAll(raw, nil)
	_ = encoder.Close()

	artifact.Hash = hash
	artifact.SchemaVersion = schemaVersion

	finalDir := filepath.Join(modelDir, artifact.StrategyConfig.Name, hash[:16])
	tmpDir := finalDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return persistResult{}, errors.Wrap(err, errors.PersistenceError, "clearing stale temp model directory")
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return persistResult{}, errors.Wrap(err, errors.PersistenceError, "creating temp model directory")
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "weights.bin"), compressed, 0o644); err != nil {
		return persistResult{}, errors.Wrap(err, errors.PersistenceError, "writing weights.bin")
	}

	configYAML, err := yaml.Marshal(artifact.StrategyConfig)
	if err != nil {
		return persistResult{}, errors.Wrap(err, errors.ModelError, "marshaling strategy config snapshot")
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), configYAML, 0o644); err != nil {
		return persistResult{}, errors.Wrap(err, errors.PersistenceError, "writing config.yaml")
	}

	metadata := map[string]interface{}{
		"schema_version":       schemaVersion,
		"hash":                 hash,
		"created_at":           time.Now().UTC(),
		"feature_names":        artifact.FeatureNames,
		"label_classes":        artifact.LabelClasses,
		"normalization_mean":   artifact.Normalization.Mean,
		"normalization_stddev": artifact.Normalization.StdDev,
	}
	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return persistResult{}, errors.Wrap(err, errors.ModelError, "marshaling metadata.json")
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "metadata.json"), metaJSON, 0o644); err != nil {
		return persistResult{}, errors.Wrap(err, errors.PersistenceError, "writing metadata.json")
	}

	if err := os.RemoveAll(finalDir); err != nil {
		return persistResult{}, errors.Wrap(err, errors.PersistenceError, "clearing prior model directory")
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return persistResult{}, errors.Wrap(err, errors.PersistenceError, "renaming temp model directory into place")
	}

	return persistResult{ModelPath: finalDir, Hash: hash}, nil
}

// LoadedModel is a trained Network plus the metadata needed to feed it
// correctly at inference time (feature order, normalization, label axis).
type LoadedModel struct {
	Net           *Network
	FeatureNames  []string
	LabelClasses  []types.LabelClass
	Normalization types.NormalizationStats
	Strategy      types.StrategyConfig
}

type artifactMetadata struct {
	SchemaVersion       string    `json:"schema_version"`
	Hash                string    `json:"hash"`
	FeatureNames        []string  `json:"feature_names"`
	LabelClasses        []string  `json:"label_classes"`
	NormalizationMean   []float64 `json:"normalization_mean"`
	NormalizationStdDev []float64 `json:"normalization_stddev"`
}

// LoadArtifact reads a model directory written by persistArtifact,
// validating the on-disk schema version against supportedSchemaRange
// before touching the weights themselves (spec.md §6: reject
// incompatible artifacts at load time, never at first inference).
func LoadArtifact(dir string) (LoadedModel, error) {
	metaRaw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return LoadedModel{}, errors.Wrap(err, errors.PersistenceError, "reading metadata.json")
	}
	var meta artifactMetadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return LoadedModel{}, errors.Wrap(err, errors.ModelError, "parsing metadata.json")
	}

	version, err := semver.NewVersion(meta.SchemaVersion)
	if err != nil {
		return LoadedModel{}, errors.Wrapf(err, errors.ModelError, "invalid schema_version %q", meta.SchemaVersion)
	}
	if !supportedSchemaRange.Check(version) {
		return LoadedModel{}, errors.Newf(errors.ModelError, "model artifact schema %s is not supported by this build (requires %s)", meta.SchemaVersion, supportedSchemaRange.String())
	}

	configRaw, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return LoadedModel{}, errors.Wrap(err, errors.PersistenceError, "reading config.yaml")
	}
	var cfg types.StrategyConfig
	if err := yaml.Unmarshal(configRaw, &cfg); err != nil {
		return LoadedModel{}, errors.Wrap(err, errors.ModelError, "parsing config.yaml")
	}

	compressed, err := os.ReadFile(filepath.Join(dir, "weights.bin"))
	if err != nil {
		return LoadedModel{}, errors.Wrap(err, errors.PersistenceError, "reading weights.bin")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return LoadedModel{}, errors.Wrap(err, errors.ModelError, "creating zstd decoder")
	}
	defer decoder.Close()
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return LoadedModel{}, errors.Wrap(err, errors.ModelError, "decompressing weights.bin")
	}

	sum := blake2b.Sum256(raw)
	if hex.EncodeToString(sum[:]) != meta.Hash {
		return LoadedModel{}, errors.New(errors.ModelError, "weights.bin content hash does not match metadata.json")
	}

	net, err := unmarshalNetwork(raw)
	if err != nil {
		return LoadedModel{}, err
	}

	labelClasses := make([]types.LabelClass, len(meta.LabelClasses))
	for i, c := range meta.LabelClasses {
		labelClasses[i] = types.LabelClass(c)
	}

	return LoadedModel{
		Net: net, FeatureNames: meta.FeatureNames, LabelClasses: labelClasses,
		Normalization: types.NormalizationStats{Mean: meta.NormalizationMean, StdDev: meta.NormalizationStdDev},
		Strategy:      cfg,
	}, nil
}

func unmarshalNetwork(raw []byte) (*Network, error) {
	var blob weightsBlob
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&blob); err != nil {
		return nil, errors.Wrap(err, errors.ModelError, "decoding model weights")
	}

	net := &Network{Dropout: blob.Dropout}
	for _, c := range blob.Classes {
		net.Classes = append(net.Classes, types.LabelClass(c))
	}
	for i := range blob.LayerRows {
		rows, cols := blob.LayerRows[i], blob.LayerCols[i]
		net.Layers = append(net.Layers, &layer{
			W:          mat.NewDense(rows, cols, blob.Weights[i]),
			B:          mat.NewDense(1, cols, blob.Biases[i]),
			Activation: blob.Activations[i],
		})
	}
	return net, nil
}
