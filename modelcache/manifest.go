package modelcache

import (
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultRevision = "main"

// File is one artifact in a Hugging Face repository. Dest renames it
// inside the model directory.
type File struct {
	Path     string `yaml:"path"`
	Dest     string `yaml:"dest,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
}

func (f File) Target() string {
	if f.Dest != "" {
		return f.Dest
	}
	return path.Base(f.Path)
}

type Model struct {
	Name     string `yaml:"name"`
	Repo     string `yaml:"repo"`
	Revision string `yaml:"revision,omitempty"`
	Dir      string `yaml:"dir"`
	Files    []File `yaml:"files"`
}

type Manifest struct {
	Models []Model `yaml:"models"`
}

// LoadManifest reads a YAML manifest and fills in default revisions.
func LoadManifest(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", filename)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", filename)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Validate() error {
	if len(m.Models) == 0 {
		return errors.New("manifest lists no models")
	}

	seen := make(map[string]bool, len(m.Models))
	for i := range m.Models {
		model := &m.Models[i]
		if model.Revision == "" {
			model.Revision = DefaultRevision
		}
		switch {
		case model.Name == "":
			return errors.Errorf("model %d: name is required", i)
		case model.Repo == "":
			return errors.Errorf("model %s: repo is required", model.Name)
		case model.Dir == "" || strings.Contains(model.Dir, ".."):
			return errors.Errorf("model %s: invalid dir %q", model.Name, model.Dir)
		case len(model.Files) == 0:
			return errors.Errorf("model %s: no files listed", model.Name)
		case seen[model.Dir]:
			return errors.Errorf("model %s: dir %s used twice", model.Name, model.Dir)
		}
		seen[model.Dir] = true

		for _, f := range model.Files {
			if f.Path == "" || strings.Contains(f.Target(), "..") {
				return errors.Errorf("model %s: invalid file %q", model.Name, f.Path)
			}
		}
	}
	return nil
}

func (m *Manifest) Find(name string) (Model, bool) {
	for _, model := range m.Models {
		if model.Name == name {
			return model, true
		}
	}
	return Model{}, false
}

// DefaultManifest lists the models the server is configured for out of the box.
func DefaultManifest() *Manifest {
	encoder := func(extra ...File) []File {
		files := []File{
			{Path: "config.json"},
			{Path: "vocab.txt"},
			{Path: "tokenizer.json", Optional: true},
			{Path: "tokenizer_config.json", Optional: true},
			{Path: "special_tokens_map.json", Optional: true},
			{Path: "pytorch_model.bin"},
			{Path: "onnx/model.onnx", Dest: "model.onnx", Optional: true},
		}
		return append(files, extra...)
	}

	return &Manifest{Models: []Model{
		{
			Name:     "summarization",
			Repo:     "facebook/bart-large-cnn",
			Revision: DefaultRevision,
			Dir:      "summarization",
			Files: []File{
				{Path: "config.json"},
				{Path: "generation_config.json", Optional: true},
				{Path: "vocab.json"},
				{Path: "merges.txt"},
				{Path: "tokenizer.json", Optional: true},
				{Path: "pytorch_model.bin"},
			},
		},
		{
			Name:     "sentiment-analysis",
			Repo:     "nlptown/bert-base-multilingual-uncased-sentiment",
			Revision: DefaultRevision,
			Dir:      "sentiment-analysis",
			Files:    encoder(),
		},
		{
			Name:     "keyword-extraction",
			Repo:     "dbmdz/bert-large-cased-finetuned-conll03-english",
			Revision: DefaultRevision,
			Dir:      "keyword-extraction",
			Files:    encoder(),
		},
		{
			Name:     "question-answering",
			Repo:     "bert-large-uncased-whole-word-masking-finetuned-squad",
			Revision: DefaultRevision,
			Dir:      "question-answering",
			Files:    encoder(),
		},
	}}
}
