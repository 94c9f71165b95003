package scoring

import (
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Provider hands out the current scoring document, re-reading the backing
// file when it changes so edits apply without a process restart. A document
// that fails to parse or validate is never served: Get returns the error
// until the file is fixed.
type Provider struct {
	path string

	mu      sync.Mutex
	doc     *Document
	modTime time.Time
}

// NewProvider loads the document at path. Load failures are fatal at startup.
func NewProvider(path string) (*Provider, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: stat document %s", path)
	}
	return &Provider{path: path, doc: doc, modTime: info.ModTime()}, nil
}

// Static wraps a fixed in-memory document, for tests and embedded use.
func Static(doc *Document) *Provider {
	return &Provider{doc: doc}
}

// Get returns the current document, reloading it if the file changed since
// the last read. A bad edit surfaces as an error here rather than silently
// serving stale or default weights.
func (p *Provider) Get() (*Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.path == "" {
		return p.doc, nil
	}

	info, err := os.Stat(p.path)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: stat document %s", p.path)
	}
	if info.ModTime().Equal(p.modTime) {
		return p.doc, nil
	}

	doc, err := LoadDocument(p.path)
	if err != nil {
		return nil, err
	}

	p.doc = doc
	p.modTime = info.ModTime()
	zap.L().Info("scoring document reloaded", zap.String("path", p.path))
	return p.doc, nil
}
