package classloader

import (
	"fmt"
	"io/fs"
)

// FSProvider serves entries from an fs.FS.
type FSProvider struct {
	name string
	fsys fs.FS
}

// NewFSProvider wraps fsys.
func NewFSProvider(name string, fsys fs.FS) *FSProvider {
	return &FSProvider{name: name, fsys: fsys}
}

// Name returns the provider name.
func (p *FSProvider) Name() string {
	return p.name
}

// Open reads entry from the file system.
func (p *FSProvider) Open(entry string) ([]byte, error) {
	if !fs.ValidPath(entry) {
		return nil, fmt.Errorf("%s: %w", entry, fs.ErrNotExist)
	}
	return fs.ReadFile(p.fsys, entry)
}

// NewFSLoader returns a loader over a single file system, typically the
// host application's own classpath.
func NewFSLoader(name string, fsys fs.FS) *Delegating {
	return NewDelegating(name, NewFSProvider(name, fsys))
}

// ParentProvider delegates to another loader. Classes found through it
// keep the identity the parent gave them.
type ParentProvider struct {
	parent Loader
}

// Parent wraps l as the fallback provider of a child loader.
func Parent(l Loader) *ParentProvider {
	return &ParentProvider{parent: l}
}

// Name returns "parent".
func (p *ParentProvider) Name() string {
	return "parent"
}

// Open returns the parent's resource.
func (p *ParentProvider) Open(entry string) ([]byte, error) {
	res, ok := p.parent.Resource(entry)
	if !ok {
		return nil, fmt.Errorf("%s: %w", entry, fs.ErrNotExist)
	}
	return res.Data, nil
}

func (p *ParentProvider) loadClass(name string) (*Class, error) {
	return p.parent.LoadClass(name)
}
