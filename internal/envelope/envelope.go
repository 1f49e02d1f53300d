// Package envelope encodes and decodes the signed update envelope and the
// manifest it wraps.
//
// Both messages use the protobuf binary wire format. Encoding writes fields in
// field-number order and omits zero values, so identical inputs always produce
// identical bytes. Unknown fields are skipped on decode.
package envelope

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// Envelope field numbers.
const (
	fieldData      protowire.Number = 1
	fieldPublicKey protowire.Number = 2
	fieldSignature protowire.Number = 3
)

// Envelope is a serialized Manifest plus its detached signature and the
// signer's public key. Raw holds the complete wire encoding.
type Envelope struct {
	Data      []byte
	PublicKey []byte
	Signature []byte
	Raw       []byte
}

// New builds an envelope and its wire encoding.
func New(data, publicKey, signature []byte) *Envelope {
	e := &Envelope{
		Data:      append([]byte(nil), data...),
		PublicKey: append([]byte(nil), publicKey...),
		Signature: append([]byte(nil), signature...),
	}
	e.Raw = e.encode()
	return e
}

func (e *Envelope) encode() []byte {
	var b []byte
	b = appendBytes(b, fieldData, e.Data)
	b = appendBytes(b, fieldPublicKey, e.PublicKey)
	b = appendBytes(b, fieldSignature, e.Signature)
	return b
}

// Decode parses a wire-encoded envelope. All three fields are required.
func Decode(raw []byte) (*Envelope, error) {
	e := &Envelope{Raw: append([]byte(nil), raw...)}
	var seen [4]bool

	err := walk(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldData, fieldPublicKey, fieldSignature:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case fieldData:
				e.Data = v
			case fieldPublicKey:
				e.PublicKey = v
			case fieldSignature:
				e.Signature = v
			}
			seen[num] = true
			return n, nil
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, updateerr.Protobuf(err, "decode envelope")
	}

	for _, f := range []struct {
		num  protowire.Number
		name string
	}{
		{fieldData, "data"},
		{fieldPublicKey, "publicKey"},
		{fieldSignature, "signature"},
	} {
		if !seen[f.num] {
			return nil, updateerr.Protobuf(nil, "decode envelope: missing required field %s", f.name)
		}
	}

	return e, nil
}

// Manifest decodes the wrapped manifest.
func (e *Envelope) Manifest() (*Manifest, error) {
	return DecodeManifest(e.Data)
}

// walk iterates over the fields of a message. fn consumes the field value
// starting right after the tag and returns the number of bytes used.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
	}
	return n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("field %d: wire type %d, want bytes", num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
	}
	return append([]byte{}, v...), n, nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("field %d: wire type %d, want varint", num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
	}
	return v, n, nil
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
