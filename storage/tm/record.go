package tm

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Transaction records are protobuf wire encoded:
// - field 1: state (varint)
// - field 2: epoch of the open which wrote the record (varint)

const (
	stateField = 1
	epochField = 2
)

type State byte

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

type record struct {
	state State
	epoch uint64
}

func (r record) encode() []byte {
	buf := make([]byte, 0, 16)
	buf = protowire.AppendTag(buf, stateField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.state))
	buf = protowire.AppendTag(buf, epochField, protowire.VarintType)
	return protowire.AppendVarint(buf, r.epoch)
}

func decodeRecord(buf []byte) (record, error) {
	var r record
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return r, fmt.Errorf("tm: bad record: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		if typ == protowire.VarintType && (num == stateField || num == epochField) {
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return r, fmt.Errorf("tm: bad record: %w", protowire.ParseError(n))
			}
			buf = buf[n:]

			if num == stateField {
				if v > uint64(Aborted) {
					return r, fmt.Errorf("tm: bad record: state %d", v)
				}
				r.state = State(v)
			} else {
				r.epoch = v
			}
		} else {
			n = protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return r, fmt.Errorf("tm: bad record: %w", protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return r, nil
}
