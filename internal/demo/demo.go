package demo

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/roach88/livedoc/internal/compiler"
	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
)

//go:embed schemas/*.cue
var schemaFS embed.FS

// Programs maps each sample schema name to its logic.
var Programs = map[string]func() engine.Program{
	"counter": Counter,
	"lobby":   Lobby,
	"looper":  Looper,
	"vault":   Vault,
}

// Schemas compiles every embedded schema, sorted by name.
func Schemas() ([]*ir.SchemaSpec, error) {
	files, err := fs.Glob(schemaFS, "schemas/*.cue")
	if err != nil {
		return nil, err
	}
	var specs []*ir.SchemaSpec
	for _, name := range files {
		src, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		compiled, err := compiler.CompileSource(path.Base(name), src)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		specs = append(specs, compiled...)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// Source returns the CUE source of a sample schema.
func Source(name string) ([]byte, error) {
	return schemaFS.ReadFile("schemas/" + name + ".cue")
}

// Bind pairs schemas with the sample programs of the same name. Schemas
// without a program are an error.
func Bind(specs []*ir.SchemaSpec) (engine.FactoryMap, error) {
	factories := make(engine.FactoryMap, len(specs))
	for _, spec := range specs {
		program, ok := Programs[spec.Name]
		if !ok {
			return nil, fmt.Errorf("no program for schema %q", spec.Name)
		}
		f, err := engine.NewFactory(spec, program())
		if err != nil {
			return nil, err
		}
		factories[spec.Name] = f
	}
	return factories, nil
}

// Factories compiles and binds every sample.
func Factories() (engine.FactoryMap, error) {
	specs, err := Schemas()
	if err != nil {
		return nil, err
	}
	return Bind(specs)
}
