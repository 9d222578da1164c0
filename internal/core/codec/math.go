package codec

type Vector2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type Vector4 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// Color is a linear RGBA color.
type Color struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
	A float32 `json:"a"`
}

// Matrix4x4 is stored row-major: M[row*4+col].
type Matrix4x4 struct {
	M [16]float32 `json:"m"`
}

// IdentityQuaternion is the rotation that does nothing.
var IdentityQuaternion = Quaternion{W: 1}

// Identity returns the 4x4 identity matrix.
func Identity() Matrix4x4 {
	var m Matrix4x4
	m.M[0], m.M[5], m.M[10], m.M[15] = 1, 1, 1, 1
	return m
}

func floats(vs ...float32) Bytable {
	return fixed(4*len(vs), func(b []byte) {
		for i, v := range vs {
			le.PutUint32(b[i*4:], float32bits(v))
		}
	})
}

func readFloats(c *ByteContainer, dst []float32) bool {
	b, ok := c.Next(4 * len(dst))
	if !ok {
		return false
	}
	for i := range dst {
		dst[i] = float32frombits(le.Uint32(b[i*4:]))
	}
	return true
}

func WriteVector2(v Vector2) Bytable { return floats(v.X, v.Y) }

func ReadVector2(c *ByteContainer) (Vector2, bool) {
	var f [2]float32
	if !readFloats(c, f[:]) {
		return Vector2{}, false
	}
	return Vector2{X: f[0], Y: f[1]}, true
}

func WriteVector3(v Vector3) Bytable { return floats(v.X, v.Y, v.Z) }

func ReadVector3(c *ByteContainer) (Vector3, bool) {
	var f [3]float32
	if !readFloats(c, f[:]) {
		return Vector3{}, false
	}
	return Vector3{X: f[0], Y: f[1], Z: f[2]}, true
}

func WriteVector4(v Vector4) Bytable { return floats(v.X, v.Y, v.Z, v.W) }

func ReadVector4(c *ByteContainer) (Vector4, bool) {
	var f [4]float32
	if !readFloats(c, f[:]) {
		return Vector4{}, false
	}
	return Vector4{X: f[0], Y: f[1], Z: f[2], W: f[3]}, true
}

func WriteQuaternion(q Quaternion) Bytable { return floats(q.X, q.Y, q.Z, q.W) }

func ReadQuaternion(c *ByteContainer) (Quaternion, bool) {
	var f [4]float32
	if !readFloats(c, f[:]) {
		return Quaternion{}, false
	}
	return Quaternion{X: f[0], Y: f[1], Z: f[2], W: f[3]}, true
}

func WriteColor(col Color) Bytable { return floats(col.R, col.G, col.B, col.A) }

func ReadColor(c *ByteContainer) (Color, bool) {
	var f [4]float32
	if !readFloats(c, f[:]) {
		return Color{}, false
	}
	return Color{R: f[0], G: f[1], B: f[2], A: f[3]}, true
}

func WriteMatrix4x4(m Matrix4x4) Bytable { return floats(m.M[:]...) }

func ReadMatrix4x4(c *ByteContainer) (Matrix4x4, bool) {
	var m Matrix4x4
	if !readFloats(c, m.M[:]) {
		return Matrix4x4{}, false
	}
	return m, true
}
