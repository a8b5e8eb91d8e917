package codec

import (
	"fmt"
	"sort"
	"sync"
)

var (
	mu     sync.RWMutex
	codecs = make(map[string]Codec)
	bases  = make(map[string]string)
)

// Register makes a codec available under name. It is called from the
// provider packages' init and panics on duplicates; the table is read-only
// once the process is serving.
func Register(name string, c Codec) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := codecs[name]; exists {
		panic(fmt.Sprintf("codec %s already registered", name))
	}
	codecs[name] = c
}

// RegisterBaseURL records where a provider lives when configuration does not
// say otherwise.
func RegisterBaseURL(name, url string) {
	mu.Lock()
	defer mu.Unlock()
	bases[name] = url
}

// DefaultBaseURL returns the base URL registered for name, if any.
func DefaultBaseURL(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	return bases[name]
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := codecs[name]
	return c, ok
}

// Names lists the registered codecs in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
