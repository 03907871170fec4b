package transform

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid body placement: a position and an orientation quaternion.
type Pose struct {
	Position    r3.Vector   `yaml:"position"`
	Orientation quat.Number `yaml:"orientation"`
}

// NewPose returns a pose at the given position with no rotation.
func NewPose(x, y, z float64) Pose {
	return Pose{Position: r3.Vector{X: x, Y: y, Z: z}, Orientation: quat.Number{Real: 1}}
}

// Validate returns ErrInvalidGeometry if any field is non-finite or the orientation has zero norm.
func (p Pose) Validate() error {
	if !finite(p.Position.X, p.Position.Y, p.Position.Z) {
		return errors.Wrapf(ErrInvalidGeometry, "pose position %v", p.Position)
	}
	o := p.Orientation
	if !finite(o.Real, o.Imag, o.Jmag, o.Kmag) {
		return errors.Wrapf(ErrInvalidGeometry, "pose orientation %v", o)
	}
	if quat.Abs(o) == 0 {
		return errors.Wrap(ErrInvalidGeometry, "pose orientation has zero norm")
	}
	return nil
}

// SpatialPose converts the pose into an rdk spatialmath.Pose.
func (p Pose) SpatialPose() spatialmath.Pose {
	q := spatialmath.Quaternion(p.Orientation)
	return spatialmath.NewPose(p.Position, &q)
}

// MapPose expresses a source-frame pose in the destination frame of h. The position is
// multiplied as a homogeneous point and the orientation is pre-multiplied by the rotation block.
func MapPose(pose Pose, h Homogeneous) (Pose, error) {
	if err := pose.Validate(); err != nil {
		return Pose{}, err
	}
	p := h.Mat.Mul4x1(mgl64.Vec4{pose.Position.X, pose.Position.Y, pose.Position.Z, 1})
	if !finite(p.X(), p.Y(), p.Z()) {
		return Pose{}, errors.Wrap(ErrInvalidGeometry, "transform produced a non-finite position")
	}
	return Pose{
		Position:    r3.Vector{X: p.X(), Y: p.Y(), Z: p.Z()},
		Orientation: quat.Mul(h.Quaternion(), pose.Orientation),
	}, nil
}
