package couchbase

import "github.com/couchbase/gocb/v2"

// CasSetter is implemented by documents that track the CAS they were read
// or last written with.
type CasSetter interface {
	SetCas(cas gocb.Cas)
}

// CasGetter is implemented by documents that carry a CAS for optimistic
// replaces.
type CasGetter interface {
	GetCas() gocb.Cas
}

// Cas is embedded in stored documents. It is never serialized.
type Cas struct {
	cas gocb.Cas
}

func (c *Cas) GetCas() gocb.Cas {
	return c.cas
}

func (c *Cas) SetCas(cas gocb.Cas) {
	c.cas = cas
}

func setCas(v any, cas gocb.Cas) {
	if s, ok := v.(CasSetter); ok {
		s.SetCas(cas)
	}
}

func getCas(v any) gocb.Cas {
	if g, ok := v.(CasGetter); ok {
		return g.GetCas()
	}
	return 0
}
