package binding

// Declaration describes one binding established automatically when the
// binder is created. The declarative map is the static analog of calling
// the bind entry point once per entry with the binder-wide defaults.
type Declaration struct {
	// Key is the local property name to bind
	Key string
	// Source is the remote value or query to bind it to
	Source Source
	// Mode selects the synchronizer; ModeAuto falls back to the
	// property's current local shape
	Mode Mode
	// Options are per-declaration overrides of the binder defaults
	Options []BindOption
}

// Declare builds a Declaration for use with WithDeclarations.
func Declare(key string, src Source, mode Mode, opts ...BindOption) Declaration {
	return Declaration{Key: key, Source: src, Mode: mode, Options: opts}
}
