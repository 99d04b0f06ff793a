package atmosphere

import (
	"time"
)

// Time is the frame clock. Frame starts at zero and advances in the
// Cleanup stage of every update.
type Time struct {
	Time  time.Time
	Dt    time.Duration
	Frame uint64
}

type TimeModule struct {
}

func (mod TimeModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&Time{
		Time: time.Now(),
		Dt:   0,
	})
	cmd.UseSystem(System(timeSystem))
	cmd.UseSystem(System(frameCounterSystem).InStage(Cleanup))
}

func timeSystem(timeResource *Time) {
	now := time.Now()

	timeResource.Dt = now.Sub(timeResource.Time)
	timeResource.Time = now
}

func frameCounterSystem(timeResource *Time) {
	timeResource.Frame++
}
