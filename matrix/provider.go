// Package matrix supplies the ordered list of environments that a test run covers.
//
// The order of the list is only a test-plan ordering. Environments are executed concurrently,
// so it says nothing about when each one starts or finishes.
package matrix

// Provider supplies the environment matrix. Implementations must be deterministic and free of
// side effects; an empty list is valid and results in a run with no pipelines.
type Provider interface {
	ListEnvironments() []EnvironmentDescriptor
}

// Static is a Provider backed by a fixed list.
type Static []EnvironmentDescriptor

func (s Static) ListEnvironments() []EnvironmentDescriptor {
	return append([]EnvironmentDescriptor(nil), s...)
}

// Default returns the matrix that is used when the configuration does not define one.
func Default() Static {
	return Static{
		New("Windows 8.1", "internet explorer", "11"),
		New("OSX 10.8", "safari", "6"),
	}
}

// Filtered wraps a Provider so that only environments accepted by the filter are listed.
type Filtered struct {
	Provider Provider
	Filter   Filter
}

func (f Filtered) ListEnvironments() []EnvironmentDescriptor {
	all := f.Provider.ListEnvironments()
	if f.Filter == nil {
		return all
	}
	var ret []EnvironmentDescriptor
	for _, d := range all {
		if f.Filter(d) {
			ret = append(ret, d)
		}
	}
	return ret
}

// Excluded returns the environments from the underlying provider that the filter rejects, in
// matrix order.
func (f Filtered) Excluded() []EnvironmentDescriptor {
	if f.Filter == nil {
		return nil
	}
	var ret []EnvironmentDescriptor
	for _, d := range f.Provider.ListEnvironments() {
		if !f.Filter(d) {
			ret = append(ret, d)
		}
	}
	return ret
}
