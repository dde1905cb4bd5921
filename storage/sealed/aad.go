package sealed

import "encoding/binary"

const (
	aadValue  = "SESSIONVALUE"
	aadFormat = 1
)

// valueAAD binds a sealed value to the store key it was written under.
func valueAAD(key string) []byte {
	return buildAAD(aadValue, key, aadFormat)
}

// buildAAD encodes strings length-prefixed and ints as 4-byte big endian.
func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
