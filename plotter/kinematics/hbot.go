package kinematics

// HBot implements the coupled two-motor H-bot mapping.
// Both motors turning together move X; turning against each other moves Y.
type HBot struct{}

// NewHBot creates a new H-bot kinematics instance
func NewHBot() *HBot {
	return &HBot{}
}

// Name returns the kinematics name
func (k *HBot) Name() string {
	return "hbot"
}

// Motors is the canonical mapping: motor1 = x - y, motor2 = x + y
func (k *HBot) Motors(stepsX, stepsY int32) (int32, int32) {
	return stepsX - stepsY, stepsX + stepsY
}

// MotorSteps converts Cartesian step deltas for the given mode.
// Jog modes drop the off-axis component and go through the same mapping.
func (k *HBot) MotorSteps(stepsX, stepsY int32, mode Mode) (int32, int32) {
	switch mode {
	case JogX:
		return k.Motors(stepsX, 0)
	case JogY:
		return k.Motors(0, stepsY)
	}
	return k.Motors(stepsX, stepsY)
}
