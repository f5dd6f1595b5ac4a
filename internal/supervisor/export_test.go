// Export internal hooks for testing
package supervisor

import "time"

// SetNow exports the now seam so tests can pin the scheduler clock.
func (s *Supervisor) SetNow(now func() time.Time) { s.now = now }

// SetLaunch exports the launch seam so tests control how continuations run.
func (s *Supervisor) SetLaunch(launch func(func())) { s.launch = launch }
