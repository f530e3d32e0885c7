// Package logging provides the slog handler used by cruxforge.
//
// Call sites log through log/slog. The [Handler] renders records with zerolog:
// a colourised console layout when writing to a terminal, JSON lines
// otherwise. Level, verbosity, and output stream can be changed after the
// handler is installed, which lets main install a handler seeded from
// linker flags before the CLI has parsed its own flags.
//
//	h := logging.NewHandler("cruxforge")
//	slog.SetDefault(slog.New(h))
//	...
//	h.SetLevel(slog.LevelDebug)
//	h.SetOutput(os.Stderr, true)
package logging
