package kinematics

// Mode selects which motion convention a move is compiled under
type Mode int

const (
	// Draw is a program move on both axes
	Draw Mode = iota
	// JogX is a manual move along X only
	JogX
	// JogY is a manual move along Y only
	JogY
)

func (m Mode) String() string {
	switch m {
	case JogX:
		return "jog-x"
	case JogY:
		return "jog-y"
	}
	return "draw"
}

// IsJog reports whether the mode uses the jog motion settings
func (m Mode) IsJog() bool {
	return m == JogX || m == JogY
}

// Kinematics defines the interface for coordinate transformations
type Kinematics interface {
	// MotorSteps converts Cartesian step deltas into motor step deltas
	MotorSteps(stepsX, stepsY int32, mode Mode) (motor1, motor2 int32)

	// Name returns the kinematics name
	Name() string
}
