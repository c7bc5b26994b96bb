package cms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/minio/simdjson-go"
)

// Dataset columns used by the lookup.
const (
	ColumnNPI                = "Rndrng_NPI"
	ColumnFirstName          = "Rndrng_Prvdr_First_Name"
	ColumnLastOrgName        = "Rndrng_Prvdr_Last_Org_Name"
	ColumnState              = "Rndrng_Prvdr_State_Abrvtn"
	ColumnTotalBeneficiaries = "Tot_Benes"
	ColumnTotalAllowedAmount = "Tot_Mdcr_Alowd_Amt"
)

var rowColumns = []string{
	ColumnNPI,
	ColumnFirstName,
	ColumnLastOrgName,
	ColumnState,
	ColumnTotalBeneficiaries,
	ColumnTotalAllowedAmount,
}

// Row is one rendering provider record. Absent or null values default to
// "" for text and 0 for numbers. The API serves numbers either as JSON
// numbers or as numeric strings; both are accepted.
type Row struct {
	NPI                string
	FirstName          string
	LastOrgName        string
	State              string
	TotalBeneficiaries int64
	TotalAllowedAmount float64

	// HasName is false when the last/org name column was absent or null.
	HasName bool

	// Invalid lists columns whose value had an unexpected shape (object,
	// array, bool, or a non-numeric string in a numeric column). Their
	// typed field holds the default.
	Invalid []string
}

// IsInvalid reports whether col had an unexpected shape.
func (r Row) IsInvalid(col string) bool {
	for _, c := range r.Invalid {
		if c == col {
			return true
		}
	}
	return false
}

type valueKind int

const (
	valueAbsent valueKind = iota
	valueString
	valueNumber
	valueOther
)

type rawValue struct {
	kind valueKind
	text string
	num  float64
}

var (
	errNotArray     = errors.New("response is not a JSON array")
	errTrailingData = errors.New("unexpected data after JSON array")
)

// decodeRows parses the response body, using simdjson on supported CPUs and
// encoding/json otherwise or when the SIMD parser rejects the input.
func decodeRows(body []byte) ([]Row, error) {
	if simdjson.SupportedCPU() {
		if rows, err := decodeRowsSimd(body); err == nil {
			return rows, nil
		}
	}
	rows, err := decodeRowsStd(body)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return rows, nil
}

func decodeRowsSimd(body []byte) ([]Row, error) {
	pj, err := simdjson.Parse(body, nil)
	if err != nil {
		return nil, err
	}

	var rows []Row
	roots := 0
	err = pj.ForEach(func(i simdjson.Iter) error {
		if roots++; roots > 1 {
			return errTrailingData
		}
		if i.Type() != simdjson.TypeArray {
			return errNotArray
		}
		arr, err := i.Array(nil)
		if err != nil {
			return err
		}

		var elemErr error
		arr.ForEach(func(el simdjson.Iter) {
			if elemErr != nil {
				return
			}
			if el.Type() != simdjson.TypeObject {
				elemErr = fmt.Errorf("row %d is not an object", len(rows))
				return
			}
			vals := make(map[string]rawValue, len(rowColumns))
			for _, col := range rowColumns {
				vals[col] = simdValue(&el, col)
			}
			rows = append(rows, rowFromValues(vals))
		})
		return elemErr
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

func simdValue(obj *simdjson.Iter, col string) rawValue {
	elem, err := obj.FindElement(nil, col)
	if err != nil {
		return rawValue{}
	}
	switch elem.Type {
	case simdjson.TypeNull:
		return rawValue{}
	case simdjson.TypeString:
		s, err := elem.Iter.String()
		if err != nil {
			return rawValue{kind: valueOther}
		}
		return rawValue{kind: valueString, text: s}
	case simdjson.TypeInt:
		n, err := elem.Iter.Int()
		if err != nil {
			return rawValue{kind: valueOther}
		}
		return rawValue{kind: valueNumber, text: strconv.FormatInt(n, 10), num: float64(n)}
	case simdjson.TypeUint:
		n, err := elem.Iter.Uint()
		if err != nil {
			return rawValue{kind: valueOther}
		}
		return rawValue{kind: valueNumber, text: strconv.FormatUint(n, 10), num: float64(n)}
	case simdjson.TypeFloat:
		f, err := elem.Iter.Float()
		if err != nil {
			return rawValue{kind: valueOther}
		}
		return rawValue{kind: valueNumber, text: strconv.FormatFloat(f, 'f', -1, 64), num: f}
	}
	return rawValue{kind: valueOther}
}

func decodeRowsStd(body []byte) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", errNotArray, err)
		}
		return nil, err
	}
	if raw == nil {
		return nil, errNotArray
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}

	rows := make([]Row, 0, len(raw))
	for _, obj := range raw {
		vals := make(map[string]rawValue, len(rowColumns))
		for _, col := range rowColumns {
			vals[col] = stdValue(obj[col])
		}
		rows = append(rows, rowFromValues(vals))
	}
	return rows, nil
}

func stdValue(v any) rawValue {
	switch t := v.(type) {
	case nil:
		return rawValue{}
	case string:
		return rawValue{kind: valueString, text: t}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return rawValue{kind: valueOther}
		}
		return rawValue{kind: valueNumber, text: t.String(), num: f}
	}
	return rawValue{kind: valueOther}
}

func rowFromValues(vals map[string]rawValue) Row {
	var r Row
	text := func(col string) string {
		v := vals[col]
		switch v.kind {
		case valueString, valueNumber:
			return strings.TrimSpace(v.text)
		case valueOther:
			r.Invalid = append(r.Invalid, col)
		}
		return ""
	}

	r.NPI = text(ColumnNPI)
	r.FirstName = text(ColumnFirstName)
	r.LastOrgName = text(ColumnLastOrgName)
	r.State = text(ColumnState)
	r.HasName = vals[ColumnLastOrgName].kind != valueAbsent

	if n, ok := parseCount(vals[ColumnTotalBeneficiaries]); ok {
		r.TotalBeneficiaries = n
	} else {
		r.Invalid = append(r.Invalid, ColumnTotalBeneficiaries)
	}
	if f, ok := parseAmount(vals[ColumnTotalAllowedAmount]); ok {
		r.TotalAllowedAmount = f
	} else {
		r.Invalid = append(r.Invalid, ColumnTotalAllowedAmount)
	}
	return r
}

func parseCount(v rawValue) (int64, bool) {
	switch v.kind {
	case valueAbsent:
		return 0, true
	case valueNumber:
		return int64(v.num), true
	case valueString:
		s := strings.ReplaceAll(strings.TrimSpace(v.text), ",", "")
		if s == "" {
			return 0, true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func parseAmount(v rawValue) (float64, bool) {
	switch v.kind {
	case valueAbsent:
		return 0, true
	case valueNumber:
		return v.num, true
	case valueString:
		s := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(v.text), ",", ""), "$")
		if s == "" {
			return 0, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
