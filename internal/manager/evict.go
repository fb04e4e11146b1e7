package manager

import "sort"

// pickEvictionsLocked returns the ready, idle instances to unload so that
// keep plus the remaining instances fit maxInstances, least recently used
// first. Busy instances are never picked, so the cap can be exceeded while
// every other model is serving. Caller holds m.mu.
func (m *Manager) pickEvictionsLocked(keep string) []string {
	excess := len(m.instances) - m.maxInstances
	if excess <= 0 {
		return nil
	}
	var idle []*Instance
	for _, inst := range m.instances {
		if inst.ID == keep || inst.State != StateReady || inst.busy() {
			continue
		}
		idle = append(idle, inst)
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastUsed.Before(idle[j].LastUsed) })
	if len(idle) > excess {
		idle = idle[:excess]
	}
	out := make([]string, 0, len(idle))
	for _, inst := range idle {
		out = append(out, inst.ID)
	}
	return out
}
