package options

// Option configures a value of type T during construction.
type Option[T any] interface {
	Apply(v *T)
}

// OptionFunc is a function type that implements the Option interface
type OptionFunc[T any] func(v *T)

// Apply implements the Option interface for OptionFunc
func (fn OptionFunc[T]) Apply(v *T) {
	fn(v)
}

// New creates a new Option from a function
func New[T any](fn func(v *T)) Option[T] {
	return OptionFunc[T](fn)
}

// ApplyAll applies opts to v in order, skipping nil options.
func ApplyAll[T any](v *T, opts ...Option[T]) {
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(v)
		}
	}
}
