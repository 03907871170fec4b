// Package transform builds homogeneous transforms from frame samples and applies them to poses.
package transform

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi

	// MountOffsetDegrees is the fixed rotation about the lateral axis between the sensor and the body.
	MountOffsetDegrees = -90.
)

// ErrInvalidGeometry is returned when a translation, angle or pose contains non-finite values.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Sample is a single frame-to-frame transform as reported by a transform source.
type Sample struct {
	Translation r3.Vector
	Rotation    quat.Number
}

// YawDegrees returns the rotation about the vertical axis carried by the sample's quaternion.
// The quaternion does not need to be unit length.
func (s Sample) YawDegrees() float64 {
	q := s.Rotation
	if n := quat.Abs(q); n != 0 {
		q = quat.Scale(1/n, q)
	}
	siny := 2 * (q.Real*q.Kmag + q.Imag*q.Jmag)
	cosy := q.Real*q.Real + q.Imag*q.Imag - q.Jmag*q.Jmag - q.Kmag*q.Kmag
	return math.Atan2(siny, cosy) * radToDeg
}

// Homogeneous is a 4x4 rigid transform of the form [[R, t], [0, 0, 0, 1]].
type Homogeneous struct {
	Mat mgl64.Mat4
}

// Build returns T * Rz(yaw) * Rx(mount), the transform carrying sensor-frame points into the world frame.
// Both angles are in degrees.
func Build(translation r3.Vector, yawDeg, mountDeg float64) (Homogeneous, error) {
	if !finite(translation.X, translation.Y, translation.Z) {
		return Homogeneous{}, errors.Wrapf(ErrInvalidGeometry, "translation %v", translation)
	}
	if !finite(yawDeg) {
		return Homogeneous{}, errors.Wrapf(ErrInvalidGeometry, "yaw angle %v", yawDeg)
	}
	if !finite(mountDeg) {
		return Homogeneous{}, errors.Wrapf(ErrInvalidGeometry, "mount offset angle %v", mountDeg)
	}

	mTrans := translationMatrix(translation)
	mRotZ := rotZMatrix(yawDeg * degToRad)
	mRotX := rotXMatrix(mountDeg * degToRad)

	return Homogeneous{Mat: mTrans.Mul4(mRotZ).Mul4(mRotX)}, nil
}

// Validate returns ErrInvalidGeometry if the sample contains non-finite values or its rotation has
// zero norm.
func (s Sample) Validate() error {
	if !finite(s.Translation.X, s.Translation.Y, s.Translation.Z) {
		return errors.Wrapf(ErrInvalidGeometry, "translation %v", s.Translation)
	}
	if !finite(s.Rotation.Real, s.Rotation.Imag, s.Rotation.Jmag, s.Rotation.Kmag) {
		return errors.Wrapf(ErrInvalidGeometry, "rotation %v", s.Rotation)
	}
	if quat.Abs(s.Rotation) == 0 {
		return errors.Wrap(ErrInvalidGeometry, "rotation has zero norm")
	}
	return nil
}

// BuildFromSample builds the transform for a sample using its yaw and the given mount offset.
func BuildFromSample(s Sample, mountDeg float64) (Homogeneous, error) {
	if err := s.Validate(); err != nil {
		return Homogeneous{}, err
	}
	return Build(s.Translation, s.YawDegrees(), mountDeg)
}

func translationMatrix(t r3.Vector) mgl64.Mat4 {
	m := mgl64.Ident4()
	m.Set(0, 3, t.X)
	m.Set(1, 3, t.Y)
	m.Set(2, 3, t.Z)
	return m
}

func rotZMatrix(rad float64) mgl64.Mat4 {
	m := mgl64.Ident4()
	m.Set(0, 0, math.Cos(rad))
	m.Set(0, 1, -math.Sin(rad))
	m.Set(1, 0, math.Sin(rad))
	m.Set(1, 1, math.Cos(rad))
	return m
}

func rotXMatrix(rad float64) mgl64.Mat4 {
	m := mgl64.Ident4()
	m.Set(1, 1, math.Cos(rad))
	m.Set(1, 2, -math.Sin(rad))
	m.Set(2, 1, math.Sin(rad))
	m.Set(2, 2, math.Cos(rad))
	return m
}

// Rotation returns the top left 3x3 block.
func (h Homogeneous) Rotation() mgl64.Mat3 {
	return h.Mat.Mat3()
}

// Translation returns the XYZ translation column.
func (h Homogeneous) Translation() r3.Vector {
	c := h.Mat.Col(3)
	return r3.Vector{X: c.X(), Y: c.Y(), Z: c.Z()}
}

// Quaternion returns the rotation block as a unit quaternion.
func (h Homogeneous) Quaternion() quat.Number {
	q := mgl64.Mat4ToQuat(h.Mat)
	return quat.Number{Real: q.W, Imag: q.X(), Jmag: q.Y(), Kmag: q.Z()}
}

// Inverse returns the rigid inverse [[R^T, -R^T t], [0, 0, 0, 1]].
func (h Homogeneous) Inverse() Homogeneous {
	rt := h.Rotation().Transpose()
	t := h.Mat.Col(3).Vec3()
	it := rt.Mul3x1(t).Mul(-1)

	inv := rt.Mat4()
	inv.Set(0, 3, it.X())
	inv.Set(1, 3, it.Y())
	inv.Set(2, 3, it.Z())
	return Homogeneous{Mat: inv}
}

// IsRigid reports whether the rotation block is orthonormal with determinant +1 and the
// bottom row is [0, 0, 0, 1], all within eps.
func (h Homogeneous) IsRigid(eps float64) bool {
	if !h.Mat.Row(3).ApproxEqualThreshold(mgl64.Vec4{0, 0, 0, 1}, eps) {
		return false
	}
	r := h.Rotation()
	for i := 0; i < 3; i++ {
		ci := r.Col(i)
		if math.Abs(ci.Len()-1) > eps {
			return false
		}
		for j := i + 1; j < 3; j++ {
			if math.Abs(ci.Dot(r.Col(j))) > eps {
				return false
			}
		}
	}
	return math.Abs(r.Det()-1) <= eps
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
