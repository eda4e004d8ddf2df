package generator

// Provider is one way to run a generation: a name, the credential that
// gates it, and a constructor for its client.
type Provider struct {
	Name       string
	Credential string
	Build      func() (Client, error)
}

// Registry is an ordered provider list; earlier entries win.
type Registry []Provider

// Select returns the first provider with a non-empty credential. It is a
// pure function of its input: registries are built at startup from resolved
// config, never from ambient state.
func Select(reg Registry) (Provider, bool) {
	for _, p := range reg {
		if p.Credential != "" {
			return p, true
		}
	}
	return Provider{}, false
}
