package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Encode writes v in canonical bencode form: dict entries are always
// emitted in ascending byte-lexicographic key order, regardless of the
// order they were built or parsed in, so the output is deterministic across
// encodes of equivalent dicts.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeInto(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInto(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
		return nil

	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteByte(':')
		buf.Write(v.Bytes)
		return nil

	case KindList:
		buf.WriteByte('l')
		for _, e := range v.List {
			if err := encodeInto(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
		return nil

	case KindDict:
		entries := make([]Entry, len(v.Dict))
		copy(entries, v.Dict)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		buf.WriteByte('d')
		for i, e := range entries {
			if i > 0 && entries[i-1].Key == e.Key {
				return ErrDuplicateKey
			}
			buf.WriteString(strconv.Itoa(len(e.Key)))
			buf.WriteByte(':')
			buf.WriteString(e.Key)
			if err := encodeInto(buf, e.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
		return nil

	default:
		return fmt.Errorf("bencode: unknown value kind %d", v.Kind)
	}
}
