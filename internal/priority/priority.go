// Package priority derives a job's queue priority from its tenant's plan
// and current concurrent load.
package priority

import "context"

// TeamJobCounter is the subset of the state store the priority engine
// reads from; kept narrow so callers can supply a stub in tests.
type TeamJobCounter interface {
	GetTeamJobCount(ctx context.Context, teamID string) (int, error)
}

const systemTeamID = "system"

// Input carries the inputs to GetJobPriority. BasePriority is returned
// unchanged whenever a store error prevents computing a real value.
type Input struct {
	Plan         string
	TeamID       string
	BasePriority int
}

// GetJobPriority returns the job priority (lower = higher priority) for in.
// teamId defaults to "system" when empty, which unconditionally returns 1.
// Any store error falls back to in.BasePriority.
func GetJobPriority(ctx context.Context, counter TeamJobCounter, in Input) int {
	basePriority := in.BasePriority
	if basePriority == 0 {
		basePriority = 10
	}

	teamID := in.TeamID
	if teamID == "" {
		teamID = systemTeamID
	}

	jobCount, err := counter.GetTeamJobCount(ctx, teamID)
	if err != nil {
		return basePriority
	}

	if teamID == systemTeamID {
		return 1
	}

	return priorityForPlan(in.Plan, jobCount)
}

func priorityForPlan(plan string, jobCount int) int {
	switch plan {
	case "free":
		switch {
		case jobCount > 10:
			return 15
		case jobCount > 5:
			return 12
		default:
			return 10
		}
	case "starter", "hobby":
		switch {
		case jobCount > 20:
			return 12
		case jobCount > 10:
			return 10
		default:
			return 8
		}
	case "standard", "standardnew":
		switch {
		case jobCount > 30:
			return 8
		case jobCount > 15:
			return 6
		default:
			return 5
		}
	case "scale", "growth", "growthdouble":
		switch {
		case jobCount > 50:
			return 5
		case jobCount > 25:
			return 3
		default:
			return 2
		}
	default:
		switch {
		case jobCount > 10:
			return 15
		case jobCount > 5:
			return 12
		default:
			return 10
		}
	}
}
