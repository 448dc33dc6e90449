package model

// Subject is one unit of work: a single imaging case taken from the caselist.
// ID is the normalized identifier (token plus the configured appendage when it
// was missing); Name is the bare subject name used to form output file names.
type Subject struct {
	Token string // raw caselist token, kept for diagnostics
	ID    string // normalized identifier, e.g. "1234_V1_MR"
	Name  string // identifier with the appendage stripped, e.g. "1234"
}

// Batch is a contiguous slice of the backlog processed together through
// staging, transform and verification. Batches never overlap in local
// working storage.
type Batch struct {
	Index    int
	Subjects []Subject
}

func (b Batch) Size() int {
	return len(b.Subjects)
}

// IDs returns the normalized identifiers of all subjects in the batch.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Subjects))
	for i, s := range b.Subjects {
		ids[i] = s.ID
	}
	return ids
}
