package server

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"ccfd-server/internal/ml"
)

func TestDecodeRequest_Layouts(t *testing.T) {
	want := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	tests := []struct {
		name    string
		payload string
	}{
		{"rows", `[[1,2],[3,4]]`},
		{"rows with whitespace", " \n[ [1, 2.0] , [3e0, 4] ]\n"},
		{"records", `[{"a":1,"b":2},{"b":4,"a":3}]`},
		{"keyed columns", `{"a":{"0":1,"1":3},"b":{"0":2,"1":4}}`},
		{"keyed columns out of order", `{"a":{"0":1,"1":3},"b":{"1":4,"0":2}}`},
		{"array columns", `{"a":[1,3],"b":[2,4]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := DecodeRequest([]byte(tt.payload))
			require.NoError(t, err)
			assert.True(t, mat.Equal(want, x), "got %v", mat.Formatted(x))
		})
	}
}

func TestDecodeRequest_SingleRow(t *testing.T) {
	x, err := DecodeRequest([]byte(`[[-1.3598071336738,-0.0727811733098497,2.53634673796914]]`))
	require.NoError(t, err)
	r, c := x.Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 3, c)
	assert.InDelta(t, -0.0727811733098497, x.At(0, 1), 1e-15)
}

func TestDecodeRequest_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"plain text", "hello world"},
		{"empty", ""},
		{"empty array", "[]"},
		{"empty row", "[[]]"},
		{"empty object", "{}"},
		{"ragged rows", "[[1,2],[3]]"},
		{"string cell", `[["1",2]]`},
		{"null cell", `[[null,2]]`},
		{"bool cell", `[[true,2]]`},
		{"nested too deep", `[[[1]]]`},
		{"flat numbers", `[1,2,3]`},
		{"truncated", `[[1,2],[3,`},
		{"trailing data", `[[1,2]] [[3,4]]`},
		{"records with different keys", `[{"a":1},{"b":2}]`},
		{"records with extra key", `[{"a":1},{"a":2,"b":3}]`},
		{"rows then records", `[[1],{"a":1}]`},
		{"columns with different rows", `{"a":{"0":1},"b":{"1":2}}`},
		{"columns of different length", `{"a":[1,2],"b":[3]}`},
		{"mixed column forms", `{"a":[1],"b":{"0":2}}`},
		{"scalar column", `{"a":1}`},
		{"top level number", `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode), "got %v", err)
		})
	}
}

func TestEncodeResponse(t *testing.T) {
	assert.Equal(t, "0,2", string(EncodeResponse(ml.Decision{Label: ml.Pass, Score: 2})))
	assert.Equal(t, "1,0", string(EncodeResponse(ml.Decision{Label: ml.Flag, Score: 0})))
	assert.Equal(t, "1,13", string(EncodeResponse(ml.Decision{Label: ml.Flag, Score: 13})))
}

func TestReadRequest(t *testing.T) {
	t.Run("complete value without EOF", func(t *testing.T) {
		r := io.MultiReader(strings.NewReader(`[[1,2]]`), blockingReader{})
		got, err := readRequest(r, DefaultMaxRequestBytes)
		require.NoError(t, err)
		assert.Equal(t, `[[1,2]]`, string(got))
	})

	t.Run("value split across reads", func(t *testing.T) {
		r := io.MultiReader(strings.NewReader(`[[1,`), strings.NewReader(`2]]`), blockingReader{})
		got, err := readRequest(iotest.OneByteReader(r), DefaultMaxRequestBytes)
		require.NoError(t, err)
		assert.Equal(t, `[[1,2]]`, string(got))
	})

	t.Run("syntax error stops reading", func(t *testing.T) {
		r := io.MultiReader(strings.NewReader("hello world"), blockingReader{})
		got, err := readRequest(r, DefaultMaxRequestBytes)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(got))
	})

	t.Run("truncated value at EOF", func(t *testing.T) {
		got, err := readRequest(strings.NewReader(`[[1,`), DefaultMaxRequestBytes)
		require.NoError(t, err)
		assert.Equal(t, `[[1,`, string(got))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := readRequest(strings.NewReader("  "), DefaultMaxRequestBytes)
		assert.True(t, errors.Is(err, ErrDecode))
	})

	t.Run("exactly at the bound", func(t *testing.T) {
		payload := "[[" + strings.Repeat("0,", 510) + "0]]"
		require.Len(t, payload, 1025)
		_, err := readRequest(strings.NewReader(payload), DefaultMaxRequestBytes)
		assert.True(t, errors.Is(err, ErrRequestTooLarge))

		payload = "[[" + strings.Repeat("0,", 509) + "10]]"
		require.Len(t, payload, 1024)
		got, err := readRequest(strings.NewReader(payload), DefaultMaxRequestBytes)
		require.NoError(t, err)
		assert.Len(t, got, 1024)
	})

	t.Run("read error", func(t *testing.T) {
		_, err := readRequest(iotest.ErrReader(errors.New("reset")), DefaultMaxRequestBytes)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrDecode))
	})

	t.Run("data returned with EOF", func(t *testing.T) {
		got, err := readRequest(iotest.DataErrReader(bytes.NewReader([]byte(`[[1]]`))), DefaultMaxRequestBytes)
		require.NoError(t, err)
		assert.Equal(t, `[[1]]`, string(got))
	})
}

// blockingReader never returns; reading into it means readRequest missed a complete request.
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}
