// Package classloader resolves the class file a hook lives in, using a
// delegating, cache-then-parent shape repurposed as the pluggable
// "hook-class locator" spec.md §6 requires rather than a JVM bootstrap
// class path.
package classloader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/patchlang/jvmpatch/pkg/classfile"
)

// Loader loads a class file by its internal name (e.g. "java/lang/Object").
// It is the interface pkg/hook uses to read a hook's defining class file for
// Transplant and Insert.
type Loader interface {
	LoadClass(internalName string) (*classfile.ClassFile, error)
}

// ResourceMapper implements the mapResourceName hook-class locator from
// spec.md §6: given the target class's file-format version and the hook's
// resource path, it returns the resource path to actually read. The
// default, Identity, lets a caller ship one hook class for every bytecode
// level; a caller that ships per-version hook variants supplies its own.
// ArchiveLoader and DirLoader have no target class at hand and always pass
// 0 as the version.
type ResourceMapper func(classFileFormatVersion uint16, resourcePath string) string

// Identity is the default ResourceMapper: it returns resourcePath unchanged.
func Identity(_ uint16, resourcePath string) string {
	return resourcePath
}

// ArchiveLoader loads classes from a zip/jar-shaped archive (a jmod file,
// an ordinary jar, or any zip with class files rooted under classRoot).
// It generalizes from a hardcoded "JM\x01\x00" jmod header to an optional
// header-skip length, so it also reads plain jars (headerLen 0).
type ArchiveLoader struct {
	ArchivePath string
	ClassRoot   string // e.g. "classes/" for a jmod, "" for a plain jar
	HeaderLen   int    // bytes to skip before the zip's local-file-header magic

	Mapper ResourceMapper
	Cache  map[string]*classfile.ClassFile

	zipReader *zip.Reader
}

// NewArchiveLoader creates an ArchiveLoader. Pass mapper as nil to use
// Identity.
func NewArchiveLoader(archivePath, classRoot string, headerLen int, mapper ResourceMapper) *ArchiveLoader {
	if mapper == nil {
		mapper = Identity
	}
	return &ArchiveLoader{
		ArchivePath: archivePath,
		ClassRoot:   classRoot,
		HeaderLen:   headerLen,
		Mapper:      mapper,
		Cache:       make(map[string]*classfile.ClassFile),
	}
}

func (cl *ArchiveLoader) ensureZipReader() error {
	if cl.zipReader != nil {
		return nil
	}

	f, err := os.Open(cl.ArchivePath)
	if err != nil {
		return fmt.Errorf("classloader: opening %s: %w", cl.ArchivePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("classloader: stat %s: %w", cl.ArchivePath, err)
	}

	data := make([]byte, stat.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return fmt.Errorf("classloader: reading %s: %w", cl.ArchivePath, err)
	}
	if cl.HeaderLen > len(data) {
		return fmt.Errorf("classloader: %s shorter than its declared header", cl.ArchivePath)
	}

	body := data[cl.HeaderLen:]
	cl.zipReader, err = zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("classloader: opening zip in %s: %w", cl.ArchivePath, err)
	}
	return nil
}

// LoadClass implements Loader.
func (cl *ArchiveLoader) LoadClass(internalName string) (*classfile.ClassFile, error) {
	if cf, ok := cl.Cache[internalName]; ok {
		return cf, nil
	}
	if err := cl.ensureZipReader(); err != nil {
		return nil, err
	}

	resourcePath := cl.Mapper(0, cl.ClassRoot+internalName+".class")
	for _, file := range cl.zipReader.File {
		if file.Name != resourcePath {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("classloader: opening %s: %w", resourcePath, err)
		}
		defer rc.Close()

		cf, err := classfile.Parse(rc)
		if err != nil {
			return nil, fmt.Errorf("classloader: parsing %s: %w", internalName, err)
		}
		cl.Cache[internalName] = cf
		return cf, nil
	}
	return nil, fmt.Errorf("classloader: class %s not found in %s", internalName, cl.ArchivePath)
}

// DirLoader loads hook classes from a directory classpath root, delegating
// to a parent loader first (spec.md §9 picks the single-delegate model over
// the abandoned blocklist-plus-sub-loader path).
type DirLoader struct {
	Root   string
	Parent Loader
	Mapper ResourceMapper
	Cache  map[string]*classfile.ClassFile
}

// NewDirLoader creates a DirLoader. Parent may be nil (no delegation).
// Mapper may be nil to use Identity.
func NewDirLoader(root string, parent Loader, mapper ResourceMapper) *DirLoader {
	if mapper == nil {
		mapper = Identity
	}
	return &DirLoader{
		Root:   root,
		Parent: parent,
		Mapper: mapper,
		Cache:  make(map[string]*classfile.ClassFile),
	}
}

// LoadClass implements Loader: it delegates to Parent first (classic
// parent-first delegation), falling back to its own classpath root.
func (cl *DirLoader) LoadClass(internalName string) (*classfile.ClassFile, error) {
	if cf, ok := cl.Cache[internalName]; ok {
		return cf, nil
	}
	if cl.Parent != nil {
		if cf, err := cl.Parent.LoadClass(internalName); err == nil {
			return cf, nil
		}
	}
	resourcePath := cl.Mapper(0, internalName+".class")
	path := filepath.Join(cl.Root, resourcePath)
	cf, err := classfile.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("classloader: hook class %s not found under %s: %w", internalName, cl.Root, err)
	}
	cl.Cache[internalName] = cf
	return cf, nil
}
