package machine

import (
	"context"
	"fmt"

	"eggplot/plotter/kinematics"
)

// Jog moves along one axis by mm using the jog motion settings
func (p *Plotter) Jog(ctx context.Context, mode kinematics.Mode, mm float64) error {
	pos := p.planner.GetCurrentPosition()

	switch mode {
	case kinematics.JogX:
		return p.moveTo(ctx, pos.X+mm, pos.Y, mode)
	case kinematics.JogY:
		return p.moveTo(ctx, pos.X, pos.Y+mm, mode)
	}
	return fmt.Errorf("not a jog mode: %s", mode)
}

// JogStep moves one configured jog distance; dir is +1 or -1
func (p *Plotter) JogStep(ctx context.Context, mode kinematics.Mode, dir int) error {
	return p.Jog(ctx, mode, float64(dir)*p.cfg.Jog.DistanceMM)
}
