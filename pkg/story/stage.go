package story

import (
	"math"
	"math/rand/v2"
)

type Stage string

const (
	Introduction Stage = "Introduction"
	RisingAction Stage = "Rising Action"
	Climax       Stage = "Climax"
	Resolution   Stage = "Resolution"
)

var stageOrder = []Stage{Introduction, RisingAction, Climax, Resolution}

var stageHints = map[Stage]string{
	Introduction: "This is the introduction. Focus on setting the scene, introducing characters, and hinting at the quest or conflict.",
	RisingAction: "This is the rising action. Add challenges, discoveries, or surprises that keep the story moving toward the climax.",
	Climax:       "This is the climax. Make this the most exciting and important challenge of the quest. Set up the resolution.",
	Resolution:   "This is the resolution. Wrap up the story with a satisfying, happy conclusion that ties back to the quest.",
}

// share bounds of each stage as a fraction of the total steps
var stageShares = map[Stage][2]float64{
	Introduction: {0.1, 0.2},
	RisingAction: {0.4, 0.6},
	Climax:       {0.15, 0.25},
	Resolution:   {0.1, 0.2},
}

// Plan assigns a number of steps to each stage. Counts sum to the story length.
type Plan map[Stage]int

// NewPlan draws a random split of total steps across the stages.
func NewPlan(total int, rng *rand.Rand) Plan {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	raw := make(map[Stage]float64, len(stageOrder))
	var sum float64
	for _, s := range stageOrder {
		lo, hi := stageShares[s][0], stageShares[s][1]
		raw[s] = lo + rng.Float64()*(hi-lo)
		sum += raw[s]
	}

	plan := make(Plan, len(stageOrder))
	assigned := 0
	for _, s := range stageOrder {
		plan[s] = int(math.Round(raw[s] / sum * float64(total)))
		assigned += plan[s]
	}

	// fix rounding drift; a stage is never reduced below one step
	diff := total - assigned
	for diff != 0 {
		s := stageOrder[rng.IntN(len(stageOrder))]
		switch {
		case diff > 0:
			plan[s]++
			diff--
		case plan[s] > 1 || (plan[s] > 0 && !plan.canShrink()):
			plan[s]--
			diff++
		}
	}
	return plan
}

func (p Plan) canShrink() bool {
	for _, n := range p {
		if n > 1 {
			return true
		}
	}
	return false
}

// PlanFromStrings converts a plan received over the wire. Unknown stage
// names are ignored.
func PlanFromStrings(m map[string]int) Plan {
	if len(m) == 0 {
		return nil
	}
	plan := make(Plan, len(m))
	for _, s := range stageOrder {
		if n, ok := m[string(s)]; ok {
			plan[s] = n
		}
	}
	return plan
}

func (p Plan) Strings() map[string]int {
	out := make(map[string]int, len(p))
	for s, n := range p {
		out[string(s)] = n
	}
	return out
}

// StageAt returns the stage covering the given step (1-indexed).
func (p Plan) StageAt(step int) Stage {
	cumulative := 0
	for _, s := range stageOrder {
		cumulative += p[s]
		if step <= cumulative {
			return s
		}
	}
	return stageOrder[len(stageOrder)-1]
}

// Guidance returns the writing hint for the stage covering step.
func (p Plan) Guidance(step int) string {
	return stageHints[p.StageAt(step)]
}
