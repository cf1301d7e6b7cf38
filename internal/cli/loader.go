package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/livedoc/internal/compiler"
	"github.com/roach88/livedoc/internal/ir"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the schemas loaded from a file or directory.
type LoadResult struct {
	Schemas   []*ir.SchemaSpec // sorted by name
	Files     []string
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchemas compiles document schemas from a .cue file, or from every
// .cue file under a directory. Each file compiles on its own.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadSchemas(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema path: %v", err)}}
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
	}

	result := &LoadResult{Files: files, FileCount: len(files)}
	var errs []error
	seen := make(map[string]string)

	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", file, err)})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		specs, err := compiler.CompileSource(file, src)
		if err != nil {
			errs = append(errs, convertCompileError(err, file))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		for _, spec := range specs {
			if prev, dup := seen[spec.Name]; dup {
				errs = append(errs, &LoadError{
					Code:    ErrCodeDuplicate,
					Message: fmt.Sprintf("schema %q defined in both %s and %s", spec.Name, prev, file),
				})
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			seen[spec.Name] = file
			result.Schemas = append(result.Schemas, spec)
		}
	}

	sort.Slice(result.Schemas, func(i, j int) bool { return result.Schemas[i].Name < result.Schemas[j].Name })
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDuplicate   = "E008" // Schema defined twice
	ErrCodeNoProgram   = "E009" // Schema has no program to run it

	// Schema errors
	ErrCodeNoDocuments    = "E100" // No document schemas
	ErrCodeInvalidField   = "E101" // Bad field declaration
	ErrCodeInvalidMessage = "E102" // Bad message type
	ErrCodeInvalidChannel = "E103" // Bad channel
	ErrCodeInvalidType    = "E104" // Invalid field type (e.g., float)
	ErrCodeInvalidDefault = "E105" // Default does not fit its type
	ErrCodeInvalidLabel   = "E106" // Bad state machine label
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	section := field
	if i := strings.IndexAny(field, ".["); i >= 0 {
		section = field[:i]
	}
	switch section {
	case "cue":
		return ErrCodeBuildFailed
	case "document":
		return ErrCodeNoDocuments
	case "fields":
		switch {
		case strings.HasSuffix(field, ".type"):
			return ErrCodeInvalidType
		case strings.HasSuffix(field, ".default"):
			return ErrCodeInvalidDefault
		}
		return ErrCodeInvalidField
	case "messages":
		return ErrCodeInvalidMessage
	case "channels":
		return ErrCodeInvalidChannel
	case "labels":
		return ErrCodeInvalidLabel
	case "type":
		return ErrCodeInvalidType
	case "default":
		return ErrCodeInvalidDefault
	default:
		return ErrCodeGeneric
	}
}
