// Package onnx runs the BERT encoder pipelines (sentiment, token
// classification, extractive question answering) with ONNX Runtime.
package onnx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	tokenizer "github.com/sugarme/tokenizer"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nijaru/yt-analyze/tokenize"
)

const (
	ModelFile  = "model.onnx"
	ConfigFile = "config.json"
)

var inputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

var (
	envOnce sync.Once
	envErr  error
)

// Init loads the shared library and initializes the ONNX Runtime environment.
// It is safe to call more than once.
func Init(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrap(err, "failed to initialize ONNX environment")
		}
	})
	return envErr
}

// Shutdown tears down the ONNX Runtime environment.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// encoded is a tokenized model input.
type encoded struct {
	ids     []int
	mask    []int
	types   []int
	tokens  []string
	offsets [][]int
}

func fromEncoding(enc *tokenizer.Encoding) encoded {
	return encoded{
		ids:     enc.GetIds(),
		mask:    enc.GetAttentionMask(),
		types:   enc.GetTypeIds(),
		tokens:  enc.GetTokens(),
		offsets: enc.GetOffsets(),
	}
}

func (e encoded) len() int { return len(e.ids) }

// truncate keeps at most max tokens, preserving the final (separator) token.
func (e encoded) truncate(max int) encoded {
	n := e.len()
	if n <= max || max < 2 {
		return e
	}
	cut := func(s []int) []int {
		if len(s) != n {
			return s
		}
		out := append([]int{}, s[:max-1]...)
		return append(out, s[n-1])
	}
	out := encoded{
		ids:   cut(e.ids),
		mask:  cut(e.mask),
		types: cut(e.types),
	}
	if len(e.tokens) == n {
		out.tokens = append(append([]string{}, e.tokens[:max-1]...), e.tokens[n-1])
	}
	if len(e.offsets) == n {
		out.offsets = append(append([][]int{}, e.offsets[:max-1]...), e.offsets[n-1])
	}
	return out
}

type output struct {
	shape ort.Shape
	data  []float32
}

// model is one encoder session plus its tokenizer and label map.
// ONNX sessions are not assumed reentrant; calls are serialized.
type model struct {
	mu       sync.Mutex
	name     string
	tok      *tokenizer.Tokenizer
	session  *ort.DynamicAdvancedSession
	labels   map[int]string
	outNames []string
	logger   *logrus.Logger
}

func loadModel(dir string, outNames []string, logger *logrus.Logger) (*model, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	counter, err := tokenize.Load(dir)
	if err != nil {
		return nil, err
	}

	labels, err := loadLabels(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(0); err != nil {
		logger.WithError(err).Warn("Failed to set thread count")
	}

	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(dir, ModelFile),
		inputNames,
		outNames,
		opts,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", dir)
	}

	logger.WithFields(logrus.Fields{
		"model_dir": dir,
		"labels":    len(labels),
	}).Info("Loaded ONNX model")

	return &model{
		name:     filepath.Base(dir),
		tok:      counter.Tokenizer(),
		session:  session,
		labels:   labels,
		outNames: outNames,
		logger:   logger,
	}, nil
}

func (m *model) label(id int) string {
	if l, ok := m.labels[id]; ok {
		return l
	}
	return "LABEL_" + strconv.Itoa(id)
}

func toInt64(s []int) []int64 {
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = int64(v)
	}
	return out
}

// run executes the session on a single sequence and copies the outputs.
func (m *model) run(in encoded) ([]output, error) {
	n := int64(in.len())
	if n == 0 {
		return nil, errors.New("empty input")
	}

	types := in.types
	if len(types) != in.len() {
		types = make([]int, in.len())
	}

	shape := ort.NewShape(1, n)
	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, data := range [][]int{in.ids, in.mask, types} {
		t, err := ort.NewTensor(shape, toInt64(data))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create input tensor")
		}
		inputs = append(inputs, t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	outputs := make([]ort.Value, len(m.outNames))
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, errors.Wrapf(err, "%s inference failed", m.name)
	}

	results := make([]output, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			v.Destroy()
			return nil, errors.Errorf("output %s is not float32", m.outNames[i])
		}
		results[i] = output{
			shape: t.GetShape().Clone(),
			data:  append([]float32{}, t.GetData()...),
		}
		v.Destroy()
	}
	return results, nil
}

func (m *model) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Destroy()
}

type modelConfig struct {
	ID2Label map[string]string `json:"id2label"`
}

func loadLabels(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var cfg modelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	labels := make(map[int]string, len(cfg.ID2Label))
	for k, v := range cfg.ID2Label {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid label id %q in %s", k, path)
		}
		labels[id] = v
	}
	return labels, nil
}
