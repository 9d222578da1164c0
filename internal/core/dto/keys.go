package dto

// PropertyKey identifies a property. All entity kinds share one flat key space;
// keys must not be reused with a different meaning across kinds.
type PropertyKey uint32

const (
	PropertyNone PropertyKey = iota
	PropertyActive
	PropertyName
	PropertyParent
	PropertyPosition
	PropertyRotation
	PropertyScale
	PropertyVisible
	PropertyColor
	PropertyMaterials
	PropertyChildren
	PropertyTransform
	PropertyInteractable
	PropertyToolbox
	PropertyBoneType
	PropertyAnimationPlaying
	PropertyAnimationStartTime

	// PropertyUserDefined is the first key available to applications.
	PropertyUserDefined PropertyKey = 1 << 16
)

// Dtype discriminators of the entity kinds known to the core.
const (
	DtypeNode      = "node"
	DtypeMaterial  = "material"
	DtypeTool      = "tool"
	DtypeToolbox   = "toolbox"
	DtypeBone      = "bone"
	DtypeAnimation = "animation"
	DtypeAvatar    = "avatar"
)
