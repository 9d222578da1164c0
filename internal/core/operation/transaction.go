package operation

import (
	"fmt"

	"github.com/umi3d/umisync/internal/core/codec"
)

// Transaction is an ordered batch of operations. Receivers apply operations
// strictly in order, each one only after the previous one completed.
type Transaction struct {
	// Reliable asks the transport for a reliable, ordered channel.
	Reliable   bool
	Operations []Operation
}

// NewTransaction creates a transaction holding ops in order.
func NewTransaction(reliable bool, ops ...Operation) *Transaction {
	return &Transaction{Reliable: reliable, Operations: append([]Operation(nil), ops...)}
}

// Add appends ops and returns t for chaining.
func (t *Transaction) Add(ops ...Operation) *Transaction {
	t.Operations = append(t.Operations, ops...)
	return t
}

func (t *Transaction) Len() int {
	return len(t.Operations)
}

// Bytable encodes the transaction tag, the reliable flag and the operations as
// an indexes array, so a receiver can skip an operation it cannot decode.
func (t *Transaction) Bytable() codec.Bytable {
	ops := make([]codec.Bytable, len(t.Operations))
	for i, op := range t.Operations {
		ops[i] = op.Bytable()
	}
	return codec.Join(
		codec.WriteEnum(KindTransaction),
		codec.WriteBool(t.Reliable),
		codec.WriteIndexesArray(ops),
	)
}

// ToBytes returns the wire form of t.
func (t *Transaction) ToBytes() []byte {
	return t.Bytable().ToBytes()
}

// DecodeTransaction decodes a transaction. A damaged header fails the whole
// decode; a damaged operation is replaced by a Malformed placeholder at the same
// position so the remaining operations still apply.
func DecodeTransaction(data []byte) (*Transaction, error) {
	c := codec.NewByteContainer(data)
	kind, ok := codec.ReadEnum[Kind](c)
	if !ok {
		return nil, fmt.Errorf("%w: missing transaction tag", ErrDecodeTruncated)
	}
	if kind != KindTransaction {
		return nil, fmt.Errorf("%w: got %s", ErrNotTransaction, kind)
	}
	reliable, ok := codec.ReadBool(c)
	if !ok {
		return nil, fmt.Errorf("%w: missing reliable flag", ErrDecodeTruncated)
	}
	elems, ok := codec.ReadIndexesArray(c)
	if !ok {
		return nil, fmt.Errorf("%w: operation table", ErrDecodeTruncated)
	}
	if !c.Exhausted() {
		return nil, fmt.Errorf("%w: %d bytes after transaction", ErrTrailingBytes, c.Remaining())
	}

	t := &Transaction{Reliable: reliable, Operations: make([]Operation, 0, len(elems))}
	for i, ec := range elems {
		raw := ec.Unread()
		op, err := DecodeFrom(ec)
		if err == nil && !ec.Exhausted() {
			err = fmt.Errorf("%w: %s has %d extra bytes", ErrTrailingBytes, op.Kind(), ec.Remaining())
		}
		if err != nil {
			t.Operations = append(t.Operations, malformed(i, raw, err))
			continue
		}
		t.Operations = append(t.Operations, op)
	}
	return t, nil
}

func malformed(index int, raw []byte, err error) *Malformed {
	m := &Malformed{Index: index, Err: err}
	c := codec.NewByteContainer(raw)
	if kind, ok := codec.ReadEnum[Kind](c); ok {
		m.OpKind = kind
		m.Payload = append([]byte(nil), c.Unread()...)
	}
	return m
}
