package operation

import "github.com/umi3d/umisync/internal/core/dto"

func Load(e *dto.EntityDto) *LoadEntity {
	return &LoadEntity{Entity: e}
}

func Delete(id uint64) *DeleteEntity {
	return &DeleteEntity{EntityID: id}
}

func Set(id uint64, key dto.PropertyKey, v dto.Value) *SetEntityProperty {
	return &SetEntityProperty{EntityID: id, Property: key, Value: v}
}

func MultiSet(key dto.PropertyKey, v dto.Value, ids ...uint64) *MultiSetEntityProperty {
	return &MultiSetEntityProperty{EntityIDs: append([]uint64(nil), ids...), Property: key, Value: v}
}

func AddAt(id uint64, key dto.PropertyKey, index int32, v dto.Value) *ListAdd {
	return &ListAdd{SetEntityProperty: *Set(id, key, v), Index: index}
}

func RemoveAt(id uint64, key dto.PropertyKey, index int32, removed dto.Value) *ListRemove {
	return &ListRemove{SetEntityProperty: *Set(id, key, removed), Index: index}
}

func SetAt(id uint64, key dto.PropertyKey, index int32, v dto.Value) *ListSet {
	return &ListSet{SetEntityProperty: *Set(id, key, v), Index: index}
}
