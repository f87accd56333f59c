package geom

import "math"

// Vec3 is a float64 3D vector used for galaxy layout.
// Game rules never read positions; only the generator and renderers do.
type Vec3 struct {
	X, Y, Z float64
}

func Add(a, b Vec3) Vec3 {
	return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func Sub(a, b Vec3) Vec3 {
	return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

func Scale(v Vec3, s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func LengthSq(v Vec3) float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func Length(v Vec3) float64 {
	return math.Sqrt(LengthSq(v))
}

// Normalize returns the unit vector of v, or the zero vector when v has no length.
func Normalize(v Vec3) Vec3 {
	l := Length(v)
	if l == 0 {
		return Vec3{}
	}
	inv := 1.0 / l
	return Vec3{v.X * inv, v.Y * inv, v.Z * inv}
}

func DistSq(a, b Vec3) float64 {
	return LengthSq(Sub(a, b))
}

// Quantize rounds every component to the given number of decimals.
// A quantized value survives a fixed-notation print/parse cycle with the same
// number of decimals bit for bit.
func Quantize(v Vec3, decimals int) Vec3 {
	p := math.Pow(10, float64(decimals))
	q := func(f float64) float64 { return math.Round(f*p) / p }
	return Vec3{q(v.X), q(v.Y), q(v.Z)}
}
