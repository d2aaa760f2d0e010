package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"ccfd-server/internal/ml"
)

// DefaultMaxRequestBytes bounds a request payload.
const DefaultMaxRequestBytes = 1024

// readRequest reads from r until the bytes read so far hold a complete JSON value,
// cannot become one, or the peer stops sending. More than max bytes is a protocol error.
func readRequest(r io.Reader, max int) ([]byte, error) {
	buf := make([]byte, max+1)
	n := 0
	for {
		m, err := r.Read(buf[n:])
		n += m
		if n > max {
			return nil, errors.Wrapf(ErrRequestTooLarge, "more than %d bytes", max)
		}
		if m > 0 && !needMore(buf[:n]) {
			return buf[:n], nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(buf[:n])) == 0 {
					return nil, errors.Wrap(ErrDecode, "empty request")
				}
				return buf[:n], nil
			}
			return nil, errors.Wrap(err, "read request")
		}
	}
}

// needMore reports whether data is a valid prefix of a JSON value that is not yet
// complete. Syntax errors return false so the caller stops reading and decoding fails.
func needMore(data []byte) bool {
	var v json.RawMessage
	err := json.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// DecodeRequest parses a JSON feature table into a matrix. Accepted layouts:
//
//	[[v, v, ...], ...]                    rows
//	[{"col": v, ...}, ...]                records; column order from the first record
//	{"col": {"row": v, ...}, ...}         columns keyed by row label
//	{"col": [v, ...], ...}                columns as arrays
//
// Columns and rows keep their document order. Every cell must be a number.
func DecodeRequest(data []byte) (*mat.Dense, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "payload: %v", err)
	}

	var rows [][]float64
	switch tok {
	case json.Delim('['):
		rows, err = decodeRowArray(dec)
	case json.Delim('{'):
		rows, err = decodeColumnMap(dec)
	default:
		return nil, errors.Wrapf(ErrDecode, "payload must be an array or object, got %v", tok)
	}
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(ErrDecode, "trailing data after payload")
	}
	return toDense(rows)
}

// EncodeResponse renders a decision as "<label>,<score>".
func EncodeResponse(d ml.Decision) []byte {
	b := strconv.AppendInt(nil, int64(d.Label), 10)
	b = append(b, ',')
	return strconv.AppendInt(b, int64(d.Score), 10)
}

func decodeRowArray(dec *json.Decoder) ([][]float64, error) {
	var (
		rows    [][]float64
		columns map[string]int
		records bool
	)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, decodeErr(err)
		}

		switch tok {
		case json.Delim('['):
			if records {
				return nil, errors.Wrap(ErrDecode, "rows mixed with records")
			}
			row, err := decodeNumbers(dec)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		case json.Delim('{'):
			if len(rows) > 0 && !records {
				return nil, errors.Wrap(ErrDecode, "records mixed with rows")
			}
			records = true
			keys, values, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			if columns == nil {
				columns = indexKeys(keys)
				rows = append(rows, values)
				continue
			}
			row, err := arrange(columns, keys, values)
			if err != nil {
				return nil, errors.Wrapf(err, "record %d", len(rows))
			}
			rows = append(rows, row)
		default:
			return nil, errors.Wrapf(ErrDecode, "array elements must be rows or records, got %v", tok)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, decodeErr(err)
	}
	return rows, nil
}

func decodeColumnMap(dec *json.Decoder) ([][]float64, error) {
	var (
		cols    [][]float64
		rowKeys map[string]int
		byArray bool
	)

	for dec.More() {
		if _, err := decodeKey(dec); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err != nil {
			return nil, decodeErr(err)
		}

		switch tok {
		case json.Delim('['):
			if len(cols) > 0 && !byArray {
				return nil, errors.Wrap(ErrDecode, "array column mixed with keyed columns")
			}
			byArray = true
			col, err := decodeNumbers(dec)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		case json.Delim('{'):
			if byArray {
				return nil, errors.Wrap(ErrDecode, "keyed column mixed with array columns")
			}
			keys, values, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			if rowKeys == nil {
				rowKeys = indexKeys(keys)
				cols = append(cols, values)
				continue
			}
			col, err := arrange(rowKeys, keys, values)
			if err != nil {
				return nil, errors.Wrapf(err, "column %d", len(cols))
			}
			cols = append(cols, col)
		default:
			return nil, errors.Wrapf(ErrDecode, "column values must be an object or array, got %v", tok)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, decodeErr(err)
	}

	if len(cols) == 0 {
		return nil, nil
	}
	n := len(cols[0])
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, len(cols))
	}
	for j, col := range cols {
		if len(col) != n {
			return nil, errors.Wrapf(ErrDecode, "column %d has %d values, want %d", j, len(col), n)
		}
		for i, v := range col {
			rows[i][j] = v
		}
	}
	return rows, nil
}

// decodeNumbers reads numbers up to the closing ']' of an array whose '[' was consumed.
func decodeNumbers(dec *json.Decoder) ([]float64, error) {
	var out []float64
	for dec.More() {
		v, err := decodeNumber(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, decodeErr(err)
	}
	return out, nil
}

// decodeObject reads key/number pairs up to the closing '}' of an object whose '{' was consumed.
func decodeObject(dec *json.Decoder) ([]string, []float64, error) {
	var (
		keys   []string
		values []float64
	)
	for dec.More() {
		key, err := decodeKey(dec)
		if err != nil {
			return nil, nil, err
		}
		v, err := decodeNumber(dec)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "key %q", key)
		}
		keys = append(keys, key)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, decodeErr(err)
	}
	return keys, values, nil
}

func decodeKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", decodeErr(err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", errors.Wrapf(ErrDecode, "expected object key, got %v", tok)
	}
	return key, nil
}

func decodeNumber(dec *json.Decoder) (float64, error) {
	tok, err := dec.Token()
	if err != nil {
		return 0, decodeErr(err)
	}
	num, ok := tok.(json.Number)
	if !ok {
		return 0, errors.Wrapf(ErrDecode, "non-numeric value %v", tok)
	}
	v, err := num.Float64()
	if err != nil {
		return 0, errors.Wrapf(ErrDecode, "number %s: %v", num, err)
	}
	return v, nil
}

func indexKeys(keys []string) map[string]int {
	idx := make(map[string]int, len(keys))
	for i, k := range keys {
		idx[k] = i
	}
	return idx
}

// arrange orders values by the positions in index. keys must be exactly index's key set.
func arrange(index map[string]int, keys []string, values []float64) ([]float64, error) {
	if len(keys) != len(index) {
		return nil, errors.Wrapf(ErrDecode, "%d keys, want %d", len(keys), len(index))
	}
	out := make([]float64, len(index))
	seen := make([]bool, len(index))
	for i, k := range keys {
		j, ok := index[k]
		if !ok || seen[j] {
			return nil, errors.Wrapf(ErrDecode, "unexpected key %q", k)
		}
		seen[j] = true
		out[j] = values[i]
	}
	return out, nil
}

func toDense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrDecode, "no rows")
	}
	width := len(rows[0])
	if width == 0 {
		return nil, errors.Wrap(ErrDecode, "no columns")
	}

	data := make([]float64, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, errors.Wrapf(ErrDecode, "row %d has %d values, want %d", i, len(r), width)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), width, data), nil
}

func decodeErr(err error) error {
	return errors.Wrapf(ErrDecode, "%v", err)
}
