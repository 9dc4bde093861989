package poem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultSource is the public corpus used when no source is configured.
const DefaultSource = "https://poems.jerryz.com.cn/poems.txt"

// ErrNotFound is returned by [Repository.Get] for an unknown ID.
var ErrNotFound = errors.New("poem: not found")

// Source yields the raw corpus text.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// FileSource reads the corpus from a local file.
type FileSource string

// Open implements Source.
func (f FileSource) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(string(f))
}

func (f FileSource) String() string { return string(f) }

// HTTPSource downloads the corpus with a GET request.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Open implements Source.
func (h HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (h HTTPSource) String() string { return h.URL }

// SourceFor picks an HTTPSource for http(s) URLs and a FileSource otherwise.
// An empty location means DefaultSource.
func SourceFor(location string) Source {
	if location == "" {
		location = DefaultSource
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return HTTPSource{URL: location}
	}
	return FileSource(location)
}

// Repository serves a loaded corpus. It is safe for concurrent use; Load may
// be called again to refresh.
type Repository struct {
	src Source

	mu    sync.RWMutex
	poems []Poem
	byID  map[int]int
}

// NewRepository returns an empty repository backed by src.
func NewRepository(src Source) *Repository {
	return &Repository{src: src, byID: map[int]int{}}
}

// NewRepositoryFrom returns a repository preloaded with poems. Useful for
// tests and for embedding a fixed corpus.
func NewRepositoryFrom(poems []Poem) *Repository {
	r := &Repository{}
	r.set(poems)
	return r
}

// Load fetches and parses the corpus, replacing what was loaded before.
func (r *Repository) Load(ctx context.Context) error {
	if r.src == nil {
		return errors.New("poem: no source configured")
	}
	rc, err := r.src.Open(ctx)
	if err != nil {
		return fmt.Errorf("poem: open %s: %w", r.src, err)
	}
	defer rc.Close()

	poems, err := Parse(rc)
	if err != nil {
		return fmt.Errorf("poem: parse %s: %w", r.src, err)
	}
	r.set(poems)
	slog.Info("poem corpus loaded", "source", r.src.String(), "poems", len(poems))
	return nil
}

func (r *Repository) set(poems []Poem) {
	byID := make(map[int]int, len(poems))
	for i, p := range poems {
		byID[p.ID] = i
	}
	r.mu.Lock()
	r.poems = poems
	r.byID = byID
	r.mu.Unlock()
}

// Get returns the poem with the given ID.
func (r *Repository) Get(id int) (Poem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return Poem{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return r.poems[i], nil
}

// All returns every poem in corpus order.
func (r *Repository) All() []Poem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.poems)
}

// Len reports the number of loaded poems.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.poems)
}

// Search returns poems whose title, author, content, tags or translation
// contain query, case-insensitively. A blank query matches nothing.
func (r *Repository) Search(query string) []Poem {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	has := func(s string) bool { return strings.Contains(strings.ToLower(s), q) }
	anyHas := func(ss []string) bool { return slices.ContainsFunc(ss, has) }

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Poem
	for _, p := range r.poems {
		if has(p.Title) || has(p.Author) || anyHas(p.Content) || anyHas(p.Tags) || anyHas(p.Translation) {
			out = append(out, p)
		}
	}
	return out
}

// Tags returns the distinct tags of the corpus, sorted.
func (r *Repository) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tags []string
	for _, p := range r.poems {
		tags = append(tags, p.Tags...)
	}
	slices.Sort(tags)
	return slices.Compact(tags)
}
