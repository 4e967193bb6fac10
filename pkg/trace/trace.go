// Package trace implements a point-in-time diagnostic snapshot of the
// GIL's waitqueue and every live job group, serialized as YAML. It is a
// supplemented feature: nothing in the concurrency core depends on it,
// but the original fish sources' job-control layer keeps enough state to
// print a similar report, and the scheduler has no other introspection
// surface once `-log` output is discarded.
package trace

import (
	"gopkg.in/yaml.v3"

	"fish.sh/concur/pkg/gil"
	"fish.sh/concur/pkg/jobgroup"
)

// ThreadSnapshot is the GIL's scheduling state at capture time.
type ThreadSnapshot struct {
	Owner   *uint64  `yaml:"owner,omitempty"`
	Waiting []uint64 `yaml:"waiting"`
}

// JobSnapshot is one live job group at capture time.
type JobSnapshot struct {
	JobID           int    `yaml:"job_id"`
	PGID            int    `yaml:"pgid,omitempty"`
	Command         string `yaml:"command"`
	WantsJobControl bool   `yaml:"wants_job_control"`
	OwnsPGID        bool   `yaml:"owns_pgid"`
}

// Snapshot is a full point-in-time capture, ready for YAML serialization.
type Snapshot struct {
	Threads ThreadSnapshot `yaml:"threads"`
	Jobs    []JobSnapshot  `yaml:"jobs"`
}

// Capture reads g's owner and waitqueue and jobs' live groups, without
// blocking either for longer than their own bookkeeping locks are held.
func Capture(g *gil.Gil, jobs *jobgroup.Manager) Snapshot {
	var threads ThreadSnapshot
	if owner, ok := g.Owner(); ok {
		v := uint64(owner)
		threads.Owner = &v
	}
	for _, id := range g.WaitQueue() {
		threads.Waiting = append(threads.Waiting, uint64(id))
	}

	var jobSnaps []JobSnapshot
	for _, grp := range jobs.LiveGroups() {
		jobSnaps = append(jobSnaps, JobSnapshot{
			JobID:           grp.JobID,
			PGID:            grp.PGID,
			Command:         grp.Command,
			WantsJobControl: grp.WantsJobControl,
			OwnsPGID:        grp.OwnsPGID,
		})
	}

	return Snapshot{Threads: threads, Jobs: jobSnaps}
}

// YAML renders the snapshot the way `fish_debug_scheduler` and postmortem
// tooling consume it.
func (s Snapshot) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
