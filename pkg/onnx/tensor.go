package onnx

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// TensorData flattens a rows x cols matrix row-major into float32 and
// returns it with the NHWC shape [1, rows, cols, 1].
func TensorData(m *mat.Dense, rows, cols int) ([]float32, []int64, error) {
	if m == nil {
		return nil, nil, errors.New("onnx: nil feature matrix")
	}
	r, c := m.Dims()
	if r != rows || c != cols {
		return nil, nil, fmt.Errorf("onnx: feature shape %dx%d, model expects %dx%d", r, c, rows, cols)
	}
	data := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, float32(m.At(i, j)))
		}
	}
	return data, []int64{1, int64(r), int64(c), 1}, nil
}
