package session

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Result is the outcome of one command: a tag describing what was done and, for commands
// which return data, columns and rows of text.
type Result struct {
	Tag     string
	Columns []string
	Rows    [][]string
}

// Results are encoded as:
// - 1: tag (bytes)
// - 2: column (bytes), repeated
// - 3: row (bytes), repeated, each containing 1: value (bytes), repeated

const (
	tagField    = 1
	columnField = 2
	rowField    = 3
	valueField  = 1
)

func (r Result) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, tagField, protowire.BytesType)
	buf = protowire.AppendString(buf, r.Tag)
	for _, col := range r.Columns {
		buf = protowire.AppendTag(buf, columnField, protowire.BytesType)
		buf = protowire.AppendString(buf, col)
	}
	for _, row := range r.Rows {
		var rb []byte
		for _, val := range row {
			rb = protowire.AppendTag(rb, valueField, protowire.BytesType)
			rb = protowire.AppendString(rb, val)
		}
		buf = protowire.AppendTag(buf, rowField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rb)
	}
	return buf
}

func consumeStrings(buf []byte, fn func(num protowire.Number, s string)) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("session: bad result: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return fmt.Errorf("session: bad result: %w", protowire.ParseError(n))
			}
			buf = buf[n:]
			continue
		}

		b, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return fmt.Errorf("session: bad result: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		fn(num, string(b))
	}
	return nil
}

func UnmarshalResult(buf []byte) (Result, error) {
	var r Result
	var rows []string
	err := consumeStrings(buf,
		func(num protowire.Number, s string) {
			switch num {
			case tagField:
				r.Tag = s
			case columnField:
				r.Columns = append(r.Columns, s)
			case rowField:
				rows = append(rows, s)
			}
		})
	if err != nil {
		return Result{}, err
	}

	for _, rb := range rows {
		row := []string{}
		err = consumeStrings([]byte(rb),
			func(num protowire.Number, s string) {
				if num == valueField {
					row = append(row, s)
				}
			})
		if err != nil {
			return Result{}, err
		}
		r.Rows = append(r.Rows, row)
	}
	return r, nil
}
