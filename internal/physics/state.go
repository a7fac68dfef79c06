package physics

import "math"

// Vec2 is a point or direction on the table plane. X runs between the two
// paddles, Y runs across the table.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// IsFinite rejects NaN and infinite components.
func (v Vec2) IsFinite() bool { return IsFinite(v.X) && IsFinite(v.Y) }

func IsFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Side identifies a paddle. Left belongs to player 1.
type Side int

const (
	Left  Side = 0
	Right Side = 1
)

// Field describes the simulation space. The ball lives in
// [-Width/2, Width/2] x [-Depth/2, Depth/2]; paddles sit PaddleInset in
// from each end wall.
type Field struct {
	Width       float64
	Depth       float64
	PaddleHalf  float64
	PaddleInset float64
	// MaxAngle is the deflection, in degrees, for a hit on the paddle edge.
	MaxAngle float64
}

var DefaultField = Field{
	Width:       300,
	Depth:       150,
	PaddleHalf:  15,
	PaddleInset: 10,
	MaxAngle:    120,
}

// State is the per-session simulation state owned by a loop.
type State struct {
	Ball    Vec2
	Dir     Vec2
	Paddles [2]float64
	Active  bool
}

// Serve puts the ball in motion from the centre along dir.
func (s *State) Serve(dir Vec2) {
	s.Ball = Vec2{}
	s.Dir = dir.Normalize()
	s.Active = true
}

// Reset re-centres the ball and holds it until the next serve.
func (s *State) Reset() {
	s.Ball = Vec2{}
	s.Dir = Vec2{}
	s.Active = false
}

// Step advances the ball by speed*dt along its direction, then resolves
// paddle hits and wall bounces.
func (s *State) Step(f Field, speed, dt float64) {
	if !s.Active {
		return
	}
	prevX := s.Ball.X
	s.Ball = s.Ball.Add(s.Dir.Scale(speed * dt))

	halfDepth := f.Depth / 2
	if s.Ball.Y > halfDepth {
		s.Ball.Y = 2*halfDepth - s.Ball.Y
		s.Dir.Y = -s.Dir.Y
	} else if s.Ball.Y < -halfDepth {
		s.Ball.Y = -2*halfDepth - s.Ball.Y
		s.Dir.Y = -s.Dir.Y
	}

	paddleX := f.Width/2 - f.PaddleInset
	// Only a ball crossing the paddle plane this step can be struck.
	switch {
	case s.Dir.X < 0 && s.Ball.X < -paddleX && prevX >= -paddleX && s.covers(f, Left):
		s.Ball.X = -2*paddleX - s.Ball.X
		s.Dir = s.deflect(f, Left, 1)
	case s.Dir.X > 0 && s.Ball.X > paddleX && prevX <= paddleX && s.covers(f, Right):
		s.Ball.X = 2*paddleX - s.Ball.X
		s.Dir = s.deflect(f, Right, -1)
	}

	halfWidth := f.Width / 2
	if s.Ball.X > halfWidth {
		s.Ball.X = 2*halfWidth - s.Ball.X
		s.Dir.X = -s.Dir.X
	} else if s.Ball.X < -halfWidth {
		s.Ball.X = -2*halfWidth - s.Ball.X
		s.Dir.X = -s.Dir.X
	}
}

func (s *State) covers(f Field, side Side) bool {
	return math.Abs(s.Ball.Y-s.Paddles[side]) <= f.PaddleHalf
}

// deflect aims the ball back toward the opponent with an angle proportional
// to how far from the paddle centre it was struck.
func (s *State) deflect(f Field, side Side, towardX float64) Vec2 {
	angle := f.MaxAngle / f.PaddleHalf * (s.Ball.Y - s.Paddles[side])
	return Vec2{X: towardX, Y: angle / 180}.Normalize()
}
