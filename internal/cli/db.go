package cli

import (
	"github.com/roach88/livedoc/internal/store"
)

// openStore opens the database behind flag (or the configured default).
// The caller closes it with the returned func.
func openStore(opts *RootOptions, flag string) (*store.Store, func(), error) {
	path := opts.database(flag)
	opts.Logger.Debug("opening database", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, func() {
		if closeErr := st.Close(); closeErr != nil {
			opts.Logger.Error("error closing database", "error", closeErr)
		}
	}, nil
}
