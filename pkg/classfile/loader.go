package classfile

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// Loader loads a named class's bytes. It does not parse them; callers
// combine a Loader with Parse.
type Loader interface {
	Load(className string) ([]byte, error)
	Close() error
}

// JmodLoader loads class bytes out of a JDK jmod archive (a zip file
// with a 4-byte "JM\x01\x00" magic header prepended, classes stored
// under a "classes/" prefix). The archive is memory-mapped rather
// than read fully into a heap buffer: jmods hold the entire standard
// library and a process that touches only a handful of classes has no
// reason to fault in the rest.
type JmodLoader struct {
	path string
	file *os.File
	mm   mmap.MMap
	zr   *zip.Reader
}

// OpenJmod memory-maps the jmod at path and prepares it for class lookups.
func OpenJmod(path string) (*JmodLoader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jmod: opening %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("jmod: mapping %s: %w", path, err)
	}
	if len(m) < 4 {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("jmod: %s too small to contain a header", path)
	}
	body := m[4:] // skip "JM\x01\x00"
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("jmod: opening zip in %s: %w", path, err)
	}
	return &JmodLoader{path: path, file: f, mm: m, zr: zr}, nil
}

func (l *JmodLoader) Load(className string) ([]byte, error) {
	target := "classes/" + className + ".class"
	for _, file := range l.zr.File {
		if file.Name != target {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("jmod: opening %s: %w", target, err)
		}
		defer rc.Close()
		buf := make([]byte, file.UncompressedSize64)
		if _, err := io.ReadFull(rc, buf); err != nil {
			return nil, fmt.Errorf("jmod: reading %s: %w", target, err)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("jmod: class %s not found in %s", className, l.path)
}

func (l *JmodLoader) Close() error {
	if err := l.mm.Unmap(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// DirLoader loads class bytes from a directory of .class files laid
// out by package path, the classic -cp user classpath entry.
type DirLoader struct {
	Root string
}

func (l *DirLoader) Load(className string) ([]byte, error) {
	path := filepath.Join(l.Root, className+".class")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dir: class %s not found under %s: %w", className, l.Root, err)
	}
	return data, nil
}

func (l *DirLoader) Close() error { return nil }
