package vm

import "github.com/corejvm/tiervm/pkg/classfile"

// ChainLoader tries each classfile.Loader in order, the way a real
// JVM's classpath works: every user classpath entry is searched before
// falling back to the bootstrap jmod. Close closes every member,
// returning the first error encountered (if any) after attempting all
// of them, so a failure to unmap the jmod doesn't leak an open
// classpath directory's (harmless, since DirLoader.Close is a no-op,
// but JmodLoader's mmap is not) file descriptor.
type ChainLoader struct {
	loaders []classfile.Loader
}

// NewChainLoader builds a ChainLoader searching ls in order.
func NewChainLoader(ls ...classfile.Loader) *ChainLoader {
	return &ChainLoader{loaders: ls}
}

func (c *ChainLoader) Load(className string) ([]byte, error) {
	var firstErr error
	for _, l := range c.loaders {
		data, err := l.Load(className)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (c *ChainLoader) Close() error {
	var firstErr error
	for _, l := range c.loaders {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ classfile.Loader = (*ChainLoader)(nil)
