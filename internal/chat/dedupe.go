package chat

// seenWindow is a bounded FIFO set of processed event ids. It keeps
// replay suppression memory-bounded: once full, the oldest id falls
// out and could in principle be replayed, which the design accepts.
type seenWindow struct {
	cap   int
	order []string
	set   map[string]struct{}
}

func newSeenWindow(capacity int) *seenWindow {
	if capacity <= 0 {
		capacity = 512
	}
	return &seenWindow{cap: capacity, set: make(map[string]struct{}, capacity)}
}

func (w *seenWindow) Has(id string) bool {
	_, ok := w.set[id]
	return ok
}

func (w *seenWindow) Add(id string) {
	if id == "" || w.Has(id) {
		return
	}
	if len(w.order) >= w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.set, oldest)
	}
	w.order = append(w.order, id)
	w.set[id] = struct{}{}
}

func (w *seenWindow) IDs() []string {
	return append([]string(nil), w.order...)
}
