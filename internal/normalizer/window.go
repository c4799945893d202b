package normalizer

// DefaultWindowSize is how many recent articles per source are checked for duplicates.
const DefaultWindowSize = 500

type windowEntry struct {
	url   string
	title string
}

// Window holds the most recent articles of one source for duplicate checks.
// It is bounded: a duplicate of an article that has fallen out of the window
// is not detected.
type Window struct {
	size    int
	entries []windowEntry // newest first
}

// NewWindow builds a window from recent articles ordered newest first.
func NewWindow(size int, recent []Candidate) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	w := &Window{size: size}
	for _, c := range recent {
		if len(w.entries) >= size {
			break
		}
		w.entries = append(w.entries, entryFor(c))
	}
	return w
}

func entryFor(c Candidate) windowEntry {
	return windowEntry{url: NormalizeURL(c.URL), title: NormalizeTitle(c.Title)}
}

// Contains reports whether c duplicates any article in the window.
func (w *Window) Contains(c Candidate) bool {
	e := entryFor(c)
	for _, x := range w.entries {
		if x.url != "" && x.url == e.url {
			return true
		}
		if similarity(x.title, e.title) >= DuplicateTitleThreshold {
			return true
		}
	}
	return false
}

// Add records c as the newest article, evicting the oldest beyond the bound.
func (w *Window) Add(c Candidate) {
	w.entries = append([]windowEntry{entryFor(c)}, w.entries...)
	if len(w.entries) > w.size {
		w.entries = w.entries[:w.size]
	}
}

func (w *Window) Len() int { return len(w.entries) }
