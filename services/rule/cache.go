package rule

import (
	"regexp"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_compiled_cache_hits_total",
		Help: "Compiled regex patterns and CEL programs served from cache.",
	}, []string{"kind"})
	cacheMiss = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_compiled_cache_miss_total",
		Help: "Compiled regex patterns and CEL programs built on demand.",
	}, []string{"kind"})
)

// Collectors returns the metrics owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cacheHits, cacheMiss}
}

type compiled[T any] struct {
	value T
	err   error
}

// compiledCacheSize bounds each cache. Custom rules arrive with every job,
// so a long-lived worker would otherwise keep every pattern it ever saw.
const compiledCacheSize = 1024

// compiledCache memoizes compilation by source text, including failures, and
// evicts the least recently used entry when full. Concurrent misses on one
// key compile once.
type compiledCache[T any] struct {
	kind    string
	items   *lru.Cache[string, compiled[T]]
	group   singleflight.Group
	compile func(string) (T, error)
}

func newCompiledCache[T any](kind string, size int, compile func(string) (T, error)) *compiledCache[T] {
	items, err := lru.New[string, compiled[T]](size)
	if err != nil {
		panic(err)
	}
	return &compiledCache[T]{
		kind:    kind,
		items:   items,
		compile: compile,
	}
}

func (c *compiledCache[T]) Get(src string) (T, error) {
	if v, ok := c.items.Get(src); ok {
		cacheHits.WithLabelValues(c.kind).Inc()
		return v.value, v.err
	}

	cacheMiss.WithLabelValues(c.kind).Inc()
	res, _, _ := c.group.Do(src, func() (any, error) {
		value, err := c.compile(src)
		entry := compiled[T]{value: value, err: err}
		c.items.Add(src, entry)
		return entry, nil
	})
	entry := res.(compiled[T])
	return entry.value, entry.err
}

func (c *compiledCache[T]) Len() int {
	return c.items.Len()
}

var (
	patternCache = newCompiledCache("regex", compiledCacheSize, regexp.Compile)
	programCache = newCompiledCache("cel", compiledCacheSize, compileRecordExpression)
)

func compiledPattern(src string) (*regexp.Regexp, error) {
	return patternCache.Get(src)
}

func compiledProgram(src string) (cel.Program, error) {
	return programCache.Get(src)
}
