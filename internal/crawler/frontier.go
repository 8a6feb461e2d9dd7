package crawler

// frontierItem is a URL waiting to be expanded with its remaining depth.
type frontierItem struct {
	url   string
	depth int
}

// frontier is a FIFO work queue for breadth-first discovery.
type frontier struct {
	items []frontierItem
	head  int
}

func (f *frontier) Push(item frontierItem) {
	f.items = append(f.items, item)
}

func (f *frontier) Pop() (frontierItem, bool) {
	if f.head >= len(f.items) {
		return frontierItem{}, false
	}
	item := f.items[f.head]
	f.items[f.head] = frontierItem{}
	f.head++
	if f.head == len(f.items) {
		f.items = f.items[:0]
		f.head = 0
	}
	return item, true
}

func (f *frontier) Len() int {
	return len(f.items) - f.head
}

// orderedSet keeps first-seen order while rejecting duplicates.
type orderedSet struct {
	seen  map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

// Add inserts v and reports whether it was new.
func (s *orderedSet) Add(v string) bool {
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

func (s *orderedSet) Has(v string) bool {
	_, ok := s.seen[v]
	return ok
}

func (s *orderedSet) Len() int {
	return len(s.order)
}

func (s *orderedSet) List() []string {
	return append([]string(nil), s.order...)
}
