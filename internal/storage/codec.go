package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"tradecore/pkg/types"
)

// Fill records use a fixed framed layout so positions can be reconstructed
// without any adapter loaded: a tuple of varint-length-prefixed fields in
// this order — timestamp (i64 ns), id, label, pos_id, instrument type (u8),
// multiplier (f64), instrument id, price unit, side (i8), price (f64),
// amount (f64), fees (f64).

func appendField(dst, field []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(field)))
	return append(dst, field...)
}

func appendI64Field(dst []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return appendField(dst, b[:])
}

func appendF64Field(dst []byte, v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return appendField(dst, b[:])
}

// EncodeFill serializes one fill into the framed tuple layout.
func EncodeFill(f types.Fill) []byte {
	buf := make([]byte, 0, 64+len(f.ID)+len(f.Label)+len(f.PosID)+len(f.Instrument.InstrumentID)+len(f.Instrument.PriceUnit))
	buf = appendI64Field(buf, f.Time.UnixNano())
	buf = appendField(buf, []byte(f.ID))
	buf = appendField(buf, []byte(f.Label))
	buf = appendField(buf, []byte(f.PosID))
	buf = appendField(buf, []byte{byte(f.Instrument.Type)})
	buf = appendF64Field(buf, f.Instrument.Multiplier)
	buf = appendField(buf, []byte(f.Instrument.InstrumentID))
	buf = appendField(buf, []byte(f.Instrument.PriceUnit))
	buf = appendField(buf, []byte{byte(int8(f.Side))})
	buf = appendF64Field(buf, f.Price)
	buf = appendF64Field(buf, f.Amount)
	buf = appendF64Field(buf, f.Fees)
	return buf
}

type fieldReader struct {
	buf []byte
}

func (r *fieldReader) next() ([]byte, error) {
	n, used := binary.Uvarint(r.buf)
	if used <= 0 || uint64(len(r.buf)-used) < n {
		return nil, fmt.Errorf("truncated field")
	}
	field := r.buf[used : used+int(n)]
	r.buf = r.buf[used+int(n):]
	return field, nil
}

func (r *fieldReader) str() (string, error) {
	b, err := r.next()
	return string(b), err
}

func (r *fieldReader) i64() (int64, error) {
	b, err := r.next()
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("i64 field has %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *fieldReader) f64() (float64, error) {
	b, err := r.next()
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("f64 field has %d bytes", len(b))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (r *fieldReader) byte() (byte, error) {
	b, err := r.next()
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, fmt.Errorf("byte field has %d bytes", len(b))
	}
	return b[0], nil
}

// DecodeFill parses a framed fill record.
func DecodeFill(data []byte) (types.Fill, error) {
	r := fieldReader{buf: data}
	var f types.Fill
	var err error

	var ns int64
	if ns, err = r.i64(); err == nil {
		f.Time = time.Unix(0, ns).UTC()
	}
	if err == nil {
		f.ID, err = r.str()
	}
	if err == nil {
		f.Label, err = r.str()
	}
	if err == nil {
		f.PosID, err = r.str()
	}
	if err == nil {
		var b byte
		if b, err = r.byte(); err == nil {
			f.Instrument.Type = types.InstrumentType(b)
		}
	}
	if err == nil {
		f.Instrument.Multiplier, err = r.f64()
	}
	if err == nil {
		f.Instrument.InstrumentID, err = r.str()
	}
	if err == nil {
		f.Instrument.PriceUnit, err = r.str()
	}
	if err == nil {
		var b byte
		if b, err = r.byte(); err == nil {
			f.Side = types.Side(int8(b))
		}
	}
	if err == nil {
		f.Price, err = r.f64()
	}
	if err == nil {
		f.Amount, err = r.f64()
	}
	if err == nil {
		f.Fees, err = r.f64()
	}
	if err != nil {
		return types.Fill{}, fmt.Errorf("decode fill: %w", err)
	}
	return f, nil
}

// fillKeySuffix builds the key tail after the tag byte: big-endian 8-byte
// timestamp nanos followed by the fill id, so lexicographic key order is
// (time, id) order.
func fillKeySuffix(ts time.Time, id string) []byte {
	buf := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(buf, uint64(ts.UnixNano()))
	return append(buf, id...)
}
