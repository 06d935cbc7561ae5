package nfc

// Registry is the fixed, ordered table of technology readers. There is exactly
// one reader per technology and the order never changes.
type Registry struct {
	readers [numTechnologies]TechnologyReader
}

// NewRegistry returns the built-in reader table. Overrides replace the
// built-in reader for their technology without changing its position; an
// override for an unknown technology is ignored.
func NewRegistry(overrides ...TechnologyReader) *Registry {
	r := &Registry{
		readers: [numTechnologies]TechnologyReader{
			TechNDEF:             ndefReader{},
			TechNfcA:             nfcAReader{},
			TechNfcB:             nfcBReader{},
			TechNfcF:             nfcFReader{},
			TechNfcV:             nfcVReader{},
			TechMifareClassic:    mifareClassicReader{},
			TechMifareUltralight: mifareUltralightReader{},
			TechNdefFormatable:   ndefFormatableReader{},
		},
	}
	for _, o := range overrides {
		if o == nil || !o.Technology().Valid() {
			continue
		}
		r.readers[o.Technology()] = o
	}
	return r
}

// Readers returns every reader in registry order.
func (r *Registry) Readers() []TechnologyReader {
	return append([]TechnologyReader(nil), r.readers[:]...)
}

// Reader returns the reader registered for tech, or nil.
func (r *Registry) Reader(tech Technology) TechnologyReader {
	if !tech.Valid() {
		return nil
	}
	return r.readers[tech]
}

// Applicable returns, in registry order, the readers for technologies in
// techs that apply to s. A reader whose Applicable panics is kept, so its
// technology still gets an entry.
func (r *Registry) Applicable(s Session, techs TechnologySet) []TechnologyReader {
	var out []TechnologyReader
	for tech, reader := range r.readers {
		if !techs.Has(Technology(tech)) {
			continue
		}
		if applies(reader, s) {
			out = append(out, reader)
		}
	}
	return out
}

func applies(r TechnologyReader, s Session) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()
	return r.Applicable(s)
}
