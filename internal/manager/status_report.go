package manager

import (
	"sort"
	"time"

	"stepllm/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cur *ModelInfo
	if m.cur != nil {
		c := *m.cur
		cur = &c
	}
	return Snapshot{State: m.state, CurrentModel: cur, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		Backend:          m.backend.Name(),
		MaxInstances:     m.maxInstances,
		Error:            m.err,
		State:            string(m.state),
		UptimeSeconds:    int64(now.Sub(m.startTime) / time.Second),
		ServerTimeUnix:   now.Unix(),
		EvictionsTotal:   m.evictionsTotal.Load(),
		LoadsTotal:       m.loadsTotal.Load(),
		IdleUnloadsTotal: m.idleUnloadsTotal.Load(),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.instances))
	warmups := 0
	draining := 0
	for _, inst := range m.instances {
		if inst.State == StateLoading {
			warmups++
		}
		if inst.State == StateDraining {
			draining++
		}
		is := types.InstanceStatus{
			ModelID:       inst.ID,
			State:         string(inst.State),
			LastUsed:      inst.LastUsed.Unix(),
			QueueLen:      len(inst.queueCh),
			Inflight:      len(inst.genCh),
			MaxQueueDepth: cap(inst.queueCh),
		}
		if inst.rt != nil {
			is.ContextSize = inst.rt.ContextSize()
			is.BatchSize = inst.rt.BatchSize()
		}
		resp.Instances = append(resp.Instances, is)
	}
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].ModelID < resp.Instances[j].ModelID })
	resp.WarmupsInProgress = warmups
	resp.DrainingCount = draining
	return resp
}
