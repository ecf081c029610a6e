package comm

// HistoryEntry is a transmitted line numbered command.
type HistoryEntry struct {
	LineNumber int
	Command    string
}

// History keeps the most recent line numbered commands, to satisfy resend requests. It is not safe
// for concurrent use.
type History struct {
	depth   int
	entries []HistoryEntry
}

func NewHistory(depth int) *History {
	if depth < 1 {
		panic("bug: history depth must be positive")
	}
	return &History{depth: depth}
}

// Append records a transmitted command, evicting the oldest one when full.
func (h *History) Append(lineNumber int, command string) {
	if len(h.entries) == h.depth {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, HistoryEntry{LineNumber: lineNumber, Command: command})
}

// Get returns the command transmitted with lineNumber, if still held.
func (h *History) Get(lineNumber int) (string, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].LineNumber == lineNumber {
			return h.entries[i].Command, true
		}
	}
	return "", false
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) Depth() int {
	return h.depth
}

func (h *History) Clear() {
	h.entries = nil
}
