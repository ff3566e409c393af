package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"

	"github.com/LCH-chanho/ECHO/pkg/classify"
)

// ClassifierConfig describes the model artifact and its I/O contract.
type ClassifierConfig struct {
	// Path is the .onnx file, read through Fs.
	Path string

	// Labels maps output indices to classes.
	Labels classify.Labels

	// InputName and OutputName select the tensors. Empty names use the
	// model's first input and output.
	InputName  string
	OutputName string

	// Filters and Frames are the expected feature matrix shape. The input
	// tensor is [1, Filters, Frames, 1].
	Filters int
	Frames  int

	IntraOpThreads int
	Logger         *slog.Logger
}

// Classifier scores feature matrices with an ONNX model. It implements
// classify.Classifier and is safe for concurrent use.
type Classifier struct {
	cfg     ClassifierConfig
	env     *Env
	session *Session

	mu     sync.RWMutex
	closed bool
}

var _ classify.Classifier = (*Classifier)(nil)

// NewClassifier loads the model at cfg.Path from fs.
func NewClassifier(fs afero.Fs, cfg ClassifierConfig) (*Classifier, error) {
	if fs == nil {
		return nil, errors.New("onnx: nil filesystem")
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("onnx: no labels")
	}
	if cfg.Filters <= 0 || cfg.Frames <= 0 {
		return nil, fmt.Errorf("onnx: invalid input shape %dx%d", cfg.Filters, cfg.Frames)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	data, err := afero.ReadFile(fs, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model: %w", err)
	}

	env, err := NewEnv("echo")
	if err != nil {
		return nil, err
	}
	session, err := env.NewSession(data, SessionOptions{IntraOpThreads: cfg.IntraOpThreads})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("onnx: load %s: %w", cfg.Path, err)
	}

	if cfg.InputName == "" || cfg.OutputName == "" {
		if err := resolveNames(session, &cfg); err != nil {
			session.Close()
			env.Close()
			return nil, err
		}
	}

	cfg.Logger.Info("model loaded",
		"path", cfg.Path,
		"bytes", len(data),
		"input", cfg.InputName,
		"output", cfg.OutputName,
		"shape", []int{1, cfg.Filters, cfg.Frames, 1},
	)
	return &Classifier{cfg: cfg, env: env, session: session}, nil
}

func resolveNames(s *Session, cfg *ClassifierConfig) error {
	if cfg.InputName == "" {
		names, err := s.InputNames()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return errors.New("onnx: model has no inputs")
		}
		cfg.InputName = names[0]
	}
	if cfg.OutputName == "" {
		names, err := s.OutputNames()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return errors.New("onnx: model has no outputs")
		}
		cfg.OutputName = names[0]
	}
	return nil
}

// Infer runs the model on one feature matrix.
func (c *Classifier) Infer(features *mat.Dense) (classify.Prediction, error) {
	data, shape, err := TensorData(features, c.cfg.Filters, c.cfg.Frames)
	if err != nil {
		return classify.Prediction{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return classify.Prediction{}, errors.New("onnx: classifier closed")
	}

	input, err := NewTensor(shape, data)
	if err != nil {
		return classify.Prediction{}, err
	}
	defer input.Close()

	outputs, err := c.session.Run([]string{c.cfg.InputName}, []*Tensor{input}, []string{c.cfg.OutputName})
	if err != nil {
		return classify.Prediction{}, err
	}
	defer func() {
		for _, o := range outputs {
			o.Close()
		}
	}()

	probs, err := outputs[0].FloatData()
	if err != nil {
		return classify.Prediction{}, err
	}
	return c.cfg.Labels.Decode(probs)
}

// Close releases the session and environment.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.session.Close()
	return c.env.Close()
}
