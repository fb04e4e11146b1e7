package manager

import "stepllm/internal/common/fsutil"

// SanityReport describes runtime checks for the inference backend.
type SanityReport struct {
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	// MissingModels lists registry entries that do not point at a regular file.
	MissingModels []string `json:"missing_models,omitempty"`
}

// SanityCheck validates that the backend can load models and that the
// registry points at existing files. It does not mutate state and is safe to
// call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{Backend: m.backend.Name()}
	if err := m.backend.Available(); err != nil {
		r.Error = err.Error()
	} else {
		r.Available = true
	}
	for _, mdl := range m.ListModels() {
		if !fsutil.IsRegularFile(mdl.Path) {
			r.MissingModels = append(r.MissingModels, mdl.ID)
		}
	}
	return r
}
