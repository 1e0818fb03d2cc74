package trust

// Scale is the pure, invertible linear transform between the canonical
// internal score range and the externally documented one. It is applied at
// the API boundary only; nothing inside the core reads external values.
type Scale struct {
	Offset float64
	Factor float64
}

// DefaultScale maps the canonical [0,1] onto the published 0–100 range.
var DefaultScale = Scale{Offset: 0, Factor: 100}

// ToExternal converts a canonical score to the external range.
func (s Scale) ToExternal(internal float64) float64 {
	return s.Offset + internal*s.Factor
}

// ToInternal inverts ToExternal.
func (s Scale) ToInternal(external float64) float64 {
	return (external - s.Offset) / s.Factor
}
