package onnx

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"

	"github.com/LCH-chanho/ECHO/pkg/classify"
)

func TestNewEnv(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	env.Close()
	env.Close()
}

func TestNewTensor(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor, err := NewTensor([]int64{1, 2, 3, 1}, data)
	if err != nil {
		t.Fatal(err)
	}
	defer tensor.Close()

	shape, err := tensor.Shape()
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 4 || shape[1] != 2 || shape[2] != 3 {
		t.Errorf("shape = %v, want [1 2 3 1]", shape)
	}

	out, err := tensor.FloatData()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v != data[i] {
			t.Errorf("[%d] = %f, want %f", i, v, data[i])
		}
	}
}

func TestNewTensor_BadData(t *testing.T) {
	if _, err := NewTensor([]int64{0}, nil); err == nil {
		t.Error("expected error for empty data")
	}
	if _, err := NewTensor([]int64{2, 3}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for short data")
	}
}

func TestTensorData(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	data, shape, err := TensorData(m, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 2, 3, 4, 5, 6}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("data = %v, want %v", data, want)
		}
	}
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 2 || shape[2] != 3 || shape[3] != 1 {
		t.Fatalf("shape = %v", shape)
	}

	if _, _, err := TensorData(m, 3, 2); err == nil {
		t.Error("shape mismatch should fail")
	}
	if _, _, err := TensorData(nil, 2, 3); err == nil {
		t.Error("nil matrix should fail")
	}
}

func TestNewClassifier_MissingModel(t *testing.T) {
	_, err := NewClassifier(afero.NewMemMapFs(), ClassifierConfig{
		Path:    "/models/missing.onnx",
		Labels:  classify.DefaultLabels,
		Filters: 64,
		Frames:  60,
	})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestNewClassifier_GarbageModel(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/models/bad.onnx", []byte("not a model"), 0o644)
	_, err := NewClassifier(fs, ClassifierConfig{
		Path:    "/models/bad.onnx",
		Labels:  classify.DefaultLabels,
		Filters: 64,
		Frames:  60,
	})
	if err == nil {
		t.Fatal("expected error for corrupt model")
	}
}

// TestClassifier_Model runs a real exported model when ECHO_ONNX_MODEL
// points at one.
func TestClassifier_Model(t *testing.T) {
	path := os.Getenv("ECHO_ONNX_MODEL")
	if path == "" {
		t.Skip("ECHO_ONNX_MODEL not set")
	}
	c, err := NewClassifier(afero.NewOsFs(), ClassifierConfig{
		Path:    path,
		Labels:  classify.DefaultLabels,
		Filters: 64,
		Frames:  60,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	p, err := c.Infer(mat.NewDense(64, 60, nil))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	t.Logf("silence: %v", p)
	if len(p.Probabilities) != len(classify.DefaultLabels) {
		t.Fatalf("probabilities = %v", p.Probabilities)
	}

	c.Close()
	if _, err := c.Infer(mat.NewDense(64, 60, nil)); err == nil {
		t.Fatal("Infer after Close should fail")
	}
}
