package math

import "math"

// Quat represents a quaternion for 3D rotations.
// Components are stored as X, Y, Z, W where W is the scalar part.
type Quat struct {
	X, Y, Z, W float32
}

// QuatIdentity returns an identity quaternion (no rotation).
func QuatIdentity() Quat {
	return Quat{X: 0, Y: 0, Z: 0, W: 1}
}

// QuatFromAxisAngle creates a quaternion from axis-angle rotation.
// axis should be normalized, angle is in radians.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	halfAngle := angle / 2
	s := float32(math.Sin(float64(halfAngle)))
	return Quat{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: float32(math.Cos(float64(halfAngle))),
	}
}

// QuatFromEulerDegrees creates a quaternion from XYZ Euler angles in
// degrees, applied in X, Y, Z order. Model formats store local rotations
// this way.
func QuatFromEulerDegrees(x, y, z float32) Quat {
	const degToRad = math.Pi / 180
	qx := QuatFromAxisAngle(Vec3{X: 1}, x*degToRad)
	qy := QuatFromAxisAngle(Vec3{Y: 1}, y*degToRad)
	qz := QuatFromAxisAngle(Vec3{Z: 1}, z*degToRad)
	return qz.Mul(qy).Mul(qx)
}

// Normalize returns a normalized quaternion.
func (q Quat) Normalize() Quat {
	length := float32(math.Sqrt(float64(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)))
	if length < 0.0001 {
		return QuatIdentity()
	}
	invLen := 1.0 / length
	return Quat{X: q.X * invLen, Y: q.Y * invLen, Z: q.Z * invLen, W: q.W * invLen}
}

// Mul returns q * other (apply other first, then q).
func (q Quat) Mul(other Quat) Quat {
	return Quat{
		X: q.W*other.X + q.X*other.W + q.Y*other.Z - q.Z*other.Y,
		Y: q.W*other.Y - q.X*other.Z + q.Y*other.W + q.Z*other.X,
		Z: q.W*other.Z + q.X*other.Y - q.Y*other.X + q.Z*other.W,
		W: q.W*other.W - q.X*other.X - q.Y*other.Y - q.Z*other.Z,
	}
}

// ToMat4 converts the quaternion to a rotation matrix.
func (q Quat) ToMat4() Mat4 {
	x, y, z, w := q.X, q.Y, q.Z, q.W
	x2, y2, z2 := x+x, y+y, z+z
	xx, xy, xz := x*x2, x*y2, x*z2
	yy, yz, zz := y*y2, y*z2, z*z2
	wx, wy, wz := w*x2, w*y2, w*z2

	m := Identity()
	m[0] = 1 - (yy + zz)
	m[1] = xy + wz
	m[2] = xz - wy
	m[4] = xy - wz
	m[5] = 1 - (xx + zz)
	m[6] = yz + wx
	m[8] = xz + wy
	m[9] = yz - wx
	m[10] = 1 - (xx + yy)
	return m
}
