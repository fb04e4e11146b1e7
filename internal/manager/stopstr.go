package manager

import "strings"

// stopMatcher finds text-level stop sequences in streamed output. Text that
// could be the start of a stop sequence is held back until it is either
// completed or ruled out, so a stop sequence is never partially streamed.
type stopMatcher struct {
	stops []string
	held  string
}

func newStopMatcher(stops []string) *stopMatcher {
	m := &stopMatcher{}
	for _, s := range stops {
		if s != "" {
			m.stops = append(m.stops, s)
		}
	}
	return m
}

// Push adds s and returns the text that is safe to emit. hit reports that a
// stop sequence was found; the returned text then ends right before it and
// everything after it is dropped.
func (m *stopMatcher) Push(s string) (out string, hit bool) {
	buf := m.held + s
	m.held = ""
	if len(m.stops) == 0 {
		return buf, false
	}
	cut := -1
	for _, st := range m.stops {
		if i := strings.Index(buf, st); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		return buf[:cut], true
	}
	keep := 0
	for _, st := range m.stops {
		for n := min(len(st)-1, len(buf)); n > keep; n-- {
			if strings.HasSuffix(buf, st[:n]) {
				keep = n
				break
			}
		}
	}
	m.held = buf[len(buf)-keep:]
	return buf[:len(buf)-keep], false
}

// Flush returns the held-back text at end of stream.
func (m *stopMatcher) Flush() string {
	s := m.held
	m.held = ""
	return s
}
