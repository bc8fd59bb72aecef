// Command patchdemo is a thin demonstration entry point for pkg/transform:
// read a class file, run it through one configured script, and write the
// result back out.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/patchlang/jvmpatch/pkg/descriptor"
	"github.com/patchlang/jvmpatch/pkg/manager"
	"github.com/patchlang/jvmpatch/pkg/script"
	"github.com/patchlang/jvmpatch/pkg/transform"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintf(os.Stderr, "Usage: patchdemo <input.class> <output.class> <internal/class/Name>\n")
		os.Exit(1)
	}

	inPath, outPath, internalName := os.Args[1], os.Args[2], os.Args[3]

	classBytes, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", inPath, err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	mgr := manager.New(logger, nil)
	mgr.AddScript(demoScript(internalName))

	t := transform.New(mgr)
	out, err := t.Transform(nil, internalName, classBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error transforming %s: %v\n", internalName, err)
		os.Exit(1)
	}
	if out == nil {
		fmt.Fprintf(os.Stderr, "No script matched %s; nothing written\n", internalName)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outPath, err)
		os.Exit(1)
	}
}

// demoScript builds an illustrative AddField script: a boolean marker
// field on the named class, demonstrating the simplest of the six
// primitives end to end.
func demoScript(internalClassName string) *script.Script {
	s, err := script.NewAddFieldScript("patchdemo-marker", []string{descriptor.InternalToDotted(internalClassName)}, 0, "patchDemoVisited", "Z", nil)
	if err != nil {
		panic(err)
	}
	return s
}
