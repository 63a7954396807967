package job

import "time"

// SetStatus moves the job to status. Reaching a terminal status stamps the
// end time and duration, so a job failed outside Complete still has timing.
// A finished job keeps its status.
func SetStatus(status Status) UpdateSetter {
	return func(j *Job) error {
		if !status.IsValid() {
			return ErrInvalidStatus
		}
		if j.Status.IsTerminal() && j.Status != status {
			return ErrJobFinished
		}
		j.Status = status
		if status.IsTerminal() && j.EndTime == nil {
			now := time.Now()
			j.EndTime = &now
			if j.StartTime != nil {
				d := now.Sub(*j.StartTime).Milliseconds()
				j.Duration = &d
			}
		}
		return nil
	}
}

// SetConfig replaces the exploration config. Only queued jobs accept a new one.
func SetConfig(config JSONMap) UpdateSetter {
	return func(j *Job) error {
		if j.Status != StatusCreated {
			return ErrJobAlreadyStarted
		}
		j.Config = config
		return nil
	}
}

func SetResult(result JSONMap) UpdateSetter {
	return func(j *Job) error {
		j.Result = result
		return nil
	}
}
