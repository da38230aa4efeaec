package filament

// noCopy may be embedded in structs that must not be copied after first
// use. go vet's copylocks check flags copies of any type with Lock and
// Unlock methods.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
