package importer

// ResolveDuplicates rewrites later occurrences of an already-seen email as
// duplicate-in-file rejections, in place. The first occurrence of an email
// in the file stays valid; every subsequent occurrence is rejected under
// its own row number, not the first one's.
//
// This runs over the full batch before any account is created: in-file
// duplicates are a data-entry error distinct from "already registered" and
// must not consume a creation attempt against the store.
func ResolveDuplicates(outcomes []RowOutcome) {
	seen := make(map[string]bool, len(outcomes))
	for i, o := range outcomes {
		if o.Valid == nil {
			continue
		}
		if seen[o.Valid.Email] {
			outcomes[i] = RowOutcome{
				Index: o.Index,
				Rejected: &Rejection{
					Row:    o.Index + HeaderOffset,
					Email:  o.Valid.Email,
					Reason: ReasonDuplicateInFile,
				},
			}
			continue
		}
		seen[o.Valid.Email] = true
	}
}
