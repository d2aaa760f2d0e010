package ml

import (
	"github.com/cockroachdb/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultOnnxInput  = "input"
	defaultOnnxOutput = "output"
)

// OnnxAutoencoder runs a reconstruction model exported to ONNX. The graph must
// take one float32 [batch, features] input and emit an output of the same shape.
type OnnxAutoencoder struct {
	session *ort.DynamicAdvancedSession
	input   string
	output  string
}

// onnxArtifact is the JSON envelope form of an ONNX model; raw .onnx bytes are
// accepted too and use the default tensor names.
type onnxArtifact struct {
	Model  []byte `json:"model"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

func newOnnxAutoencoder(rt *Runtime, model []byte, input, output string) (*OnnxAutoencoder, error) {
	if rt == nil {
		return nil, errors.New("onnx artifacts need a runtime")
	}
	if len(model) == 0 {
		return nil, errors.New("onnx artifact is empty")
	}
	if input == "" {
		input = defaultOnnxInput
	}
	if output == "" {
		output = defaultOnnxOutput
	}
	if err := rt.acquire(); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(model, []string{input}, []string{output}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create in-memory session")
	}
	return &OnnxAutoencoder{session: session, input: input, output: output}, nil
}

// Reconstructs reports that Predict returns a reconstruction of its input.
func (m *OnnxAutoencoder) Reconstructs() bool { return true }

// Predict runs the session on x and returns the reconstruction.
func (m *OnnxAutoencoder) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	data := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, float32(x.At(i, j)))
		}
	}

	shape := ort.NewShape(int64(r), int64(c))
	inT, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, errors.Wrap(err, "input tensor")
	}
	defer inT.Destroy()
	outT, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, errors.Wrap(err, "output tensor")
	}
	defer outT.Destroy()

	if err := m.session.Run([]ort.Value{inT}, []ort.Value{outT}); err != nil {
		return nil, errors.Wrap(err, "session run error")
	}

	flat := outT.GetData()
	out := make([]float64, len(flat))
	for i, v := range flat {
		out[i] = float64(v)
	}
	return mat.NewDense(r, c, out), nil
}

// Release destroys the session.
func (m *OnnxAutoencoder) Release() error {
	return m.session.Destroy()
}
