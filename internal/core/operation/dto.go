package operation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/umi3d/umisync/internal/core/dto"
)

// Dtype discriminators of the object form.
const (
	DtypeTransaction      = "TransactionDto"
	DtypeLoadEntity       = "LoadEntityDto"
	DtypeDeleteEntity     = "DeleteEntityDto"
	DtypeSetEntity        = "SetEntityPropertyDto"
	DtypeMultiSetEntity   = "MultiSetEntityPropertyDto"
	DtypeListAdd          = "SetEntityListAddContentDto"
	DtypeListRemove       = "SetEntityListRemoveContentDto"
	DtypeListSet          = "SetEntityListPropertyDto"
	DtypeUnknownOperation = "UnknownOperationDto"
)

// Dto is the object form of any operation. Dtype selects which fields are
// meaningful.
type Dto struct {
	Dtype     string          `json:"dtype"`
	EntityID  uint64          `json:"entityId,omitempty"`
	EntityIDs []uint64        `json:"entityIds,omitempty"`
	Property  dto.PropertyKey `json:"property,omitempty"`
	Value     *dto.Value      `json:"value,omitempty"`
	Index     int32           `json:"index,omitempty"`
	Entity    *dto.EntityDto  `json:"entity,omitempty"`
	Kind      Kind            `json:"kind,omitempty"`
	Payload   []byte          `json:"payload,omitempty"`

	// raw is the JSON the dto was decoded from, re-emitted verbatim by
	// MarshalJSON. decodeErr holds a field that did not fit its type.
	raw       json.RawMessage
	decodeErr error
}

type plainDto Dto

// UnmarshalJSON keeps the element's JSON. A field of the wrong type does not
// fail the decode: it is reported when the dto is converted, so one bad
// element never rejects the whole transaction.
func (d *Dto) UnmarshalJSON(data []byte) error {
	var p plainDto
	if err := json.Unmarshal(data, &p); err != nil {
		var head struct {
			Dtype string `json:"dtype"`
		}
		_ = json.Unmarshal(data, &head)
		p = plainDto{Dtype: head.Dtype, decodeErr: err}
	}
	*d = Dto(p)
	d.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (d *Dto) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	return json.Marshal((*plainDto)(d))
}

// TransactionDto is the object form of a Transaction.
type TransactionDto struct {
	Dtype      string `json:"dtype"`
	Reliable   bool   `json:"reliable"`
	Operations []*Dto `json:"operations"`
}

func valuePtr(v dto.Value) *dto.Value {
	return &v
}

func (op *LoadEntity) ToDto() *Dto {
	return &Dto{Dtype: DtypeLoadEntity, Entity: op.Entity.Clone()}
}

func (op *DeleteEntity) ToDto() *Dto {
	return &Dto{Dtype: DtypeDeleteEntity, EntityID: op.EntityID}
}

func (op *SetEntityProperty) ToDto() *Dto {
	return &Dto{Dtype: DtypeSetEntity, EntityID: op.EntityID, Property: op.Property, Value: valuePtr(op.Value)}
}

func (op *MultiSetEntityProperty) ToDto() *Dto {
	return &Dto{
		Dtype:     DtypeMultiSetEntity,
		EntityIDs: append([]uint64(nil), op.EntityIDs...),
		Property:  op.Property,
		Value:     valuePtr(op.Value),
	}
}

func (op *ListAdd) ToDto() *Dto {
	d := op.SetEntityProperty.ToDto()
	d.Dtype, d.Index = DtypeListAdd, op.Index
	return d
}

func (op *ListRemove) ToDto() *Dto {
	d := op.SetEntityProperty.ToDto()
	d.Dtype, d.Index = DtypeListRemove, op.Index
	return d
}

func (op *ListSet) ToDto() *Dto {
	d := op.SetEntityProperty.ToDto()
	d.Dtype, d.Index = DtypeListSet, op.Index
	return d
}

func (op *Unknown) ToDto() *Dto {
	return opaqueDto(op.Dtype, op.OpKind, op.Payload)
}

func (op *Malformed) ToDto() *Dto {
	return opaqueDto(op.Dtype, op.OpKind, op.Payload)
}

// opaqueDto re-emits an operation that was not understood. One that came in
// object form keeps its original JSON.
func opaqueDto(dtype string, kind Kind, payload []byte) *Dto {
	if dtype != "" && json.Valid(payload) {
		return &Dto{Dtype: dtype, raw: append(json.RawMessage(nil), payload...)}
	}
	return &Dto{Dtype: DtypeUnknownOperation, Kind: kind, Payload: append([]byte(nil), payload...)}
}

// kindOfDtype returns the wire tag matching a known dtype.
func kindOfDtype(dtype string) (Kind, bool) {
	switch dtype {
	case DtypeLoadEntity:
		return KindLoadEntity, true
	case DtypeDeleteEntity:
		return KindDeleteEntity, true
	case DtypeSetEntity:
		return KindSetEntityProperty, true
	case DtypeMultiSetEntity:
		return KindMultiSetEntityProperty, true
	case DtypeListAdd:
		return KindSetEntityListAdd, true
	case DtypeListRemove:
		return KindSetEntityListRemove, true
	case DtypeListSet:
		return KindSetEntityListProperty, true
	case DtypeUnknownOperation:
		return KindUnknown, true
	}
	return KindUnknown, false
}

// FromDto converts the object form back into an operation.
func FromDto(d *Dto) (Operation, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil dto", ErrMissingField)
	}
	if d.decodeErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingField, d.Dtype, d.decodeErr)
	}

	value := func() (dto.Value, error) {
		if d.Value == nil {
			return dto.Value{}, fmt.Errorf("%w: %s.value", ErrMissingField, d.Dtype)
		}
		return *d.Value, nil
	}

	switch d.Dtype {
	case DtypeLoadEntity:
		if d.Entity == nil {
			return nil, fmt.Errorf("%w: %s.entity", ErrMissingField, d.Dtype)
		}
		return &LoadEntity{Entity: d.Entity.Clone()}, nil
	case DtypeDeleteEntity:
		return &DeleteEntity{EntityID: d.EntityID}, nil
	case DtypeSetEntity, DtypeListAdd, DtypeListRemove, DtypeListSet:
		v, err := value()
		if err != nil {
			return nil, err
		}
		set := SetEntityProperty{EntityID: d.EntityID, Property: d.Property, Value: v}
		switch d.Dtype {
		case DtypeListAdd:
			return &ListAdd{SetEntityProperty: set, Index: d.Index}, nil
		case DtypeListRemove:
			return &ListRemove{SetEntityProperty: set, Index: d.Index}, nil
		case DtypeListSet:
			return &ListSet{SetEntityProperty: set, Index: d.Index}, nil
		}
		return &set, nil
	case DtypeMultiSetEntity:
		v, err := value()
		if err != nil {
			return nil, err
		}
		return &MultiSetEntityProperty{EntityIDs: append([]uint64(nil), d.EntityIDs...), Property: d.Property, Value: v}, nil
	case DtypeUnknownOperation:
		return &Unknown{OpKind: d.Kind, Payload: append([]byte(nil), d.Payload...)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDtype, d.Dtype)
	}
}

// Operation converts d the way a transaction element is decoded: an unknown
// dtype becomes Unknown and a dto that cannot be converted becomes Malformed
// at index, both carrying the element's JSON.
func (d *Dto) Operation(index int) Operation {
	op, err := FromDto(d)
	if err == nil {
		return op
	}
	var dtype string
	var raw []byte
	if d != nil {
		dtype, raw = d.Dtype, append([]byte(nil), d.raw...)
	}
	kind, known := kindOfDtype(dtype)
	if !known && errors.Is(err, ErrUnknownDtype) {
		return &Unknown{OpKind: KindUnknown, Dtype: dtype, Payload: raw}
	}
	return &Malformed{Index: index, OpKind: kind, Dtype: dtype, Payload: raw, Err: err}
}

// ToDto returns the object form of t.
func (t *Transaction) ToDto() *TransactionDto {
	out := &TransactionDto{Dtype: DtypeTransaction, Reliable: t.Reliable, Operations: make([]*Dto, len(t.Operations))}
	for i, op := range t.Operations {
		out.Operations[i] = op.ToDto()
	}
	return out
}

// TransactionFromDto converts the object form back into a Transaction. As in
// the binary form, unknown elements become Unknown and elements that cannot be
// converted become Malformed; the rest of the transaction is kept.
func TransactionFromDto(d *TransactionDto) (*Transaction, error) {
	if d == nil || d.Dtype != DtypeTransaction {
		return nil, ErrNotTransaction
	}
	t := &Transaction{Reliable: d.Reliable, Operations: make([]Operation, 0, len(d.Operations))}
	for i, od := range d.Operations {
		t.Operations = append(t.Operations, od.Operation(i))
	}
	return t, nil
}

// MarshalTransactionJSON encodes t in its JSON object form.
func MarshalTransactionJSON(t *Transaction) ([]byte, error) {
	return json.Marshal(t.ToDto())
}

// UnmarshalTransactionJSON decodes the JSON object form of a transaction.
func UnmarshalTransactionJSON(data []byte) (*Transaction, error) {
	var d TransactionDto
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode transaction dto: %w", err)
	}
	return TransactionFromDto(&d)
}
