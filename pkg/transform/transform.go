// Package transform wires pkg/manager into the host-runtime class-load
// callback spec.md §6 describes: a function of (defining-loader,
// class-internal-name, bytes) returning new bytes or nil, plus the
// optional debug-dump directory spec.md §6/§9 mentions. This is the
// "host integration" layer -- the manager itself never touches the
// filesystem or the process environment.
package transform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/manager"
)

// DebugDumpEnvVar names the environment variable this package checks for
// a debug-dump directory: explicit env var first, nothing otherwise,
// rather than a config-file layer.
const DebugDumpEnvVar = "JVMPATCH_DEBUG_DUMP_DIR"

// Transformer adapts a *manager.Manager into the host-runtime callback
// shape. DebugDumpDir, when non-empty, makes every actually-transformed
// class write its old and new bytes under that directory as
// "<internal-name>.class" and "<internal-name>_OLD.class" (spec.md §6).
type Transformer struct {
	Manager      *manager.Manager
	DebugDumpDir string
}

// New builds a Transformer around mgr, reading DebugDumpDir from
// DebugDumpEnvVar.
func New(mgr *manager.Manager) *Transformer {
	return &Transformer{Manager: mgr, DebugDumpDir: os.Getenv(DebugDumpEnvVar)}
}

// Transform is the host-runtime class-load callback: it ignores a null
// (empty) internalName, otherwise delegates to the manager and, when the
// manager produced new bytes, optionally dumps both versions to disk.
func (t *Transformer) Transform(loader classloader.Loader, internalName string, classBytes []byte) ([]byte, error) {
	if internalName == "" {
		return nil, nil
	}

	out, err := t.Manager.Transform(loader, internalName, classBytes)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	if t.DebugDumpDir != "" {
		if dumpErr := t.dump(internalName, classBytes, out); dumpErr != nil {
			return nil, fmt.Errorf("transform: debug dump for %s: %w", internalName, dumpErr)
		}
	}
	return out, nil
}

func (t *Transformer) dump(internalName string, oldBytes, newBytes []byte) error {
	newPath := filepath.Join(t.DebugDumpDir, internalName+".class")
	oldPath := filepath.Join(t.DebugDumpDir, internalName+"_OLD.class")

	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(newPath, newBytes, 0o644); err != nil {
		return err
	}
	return os.WriteFile(oldPath, oldBytes, 0o644)
}
