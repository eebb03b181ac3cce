package identity

import "github.com/google/uuid"

// Contact is the identity projection of a lead: the two normalized keys it
// can be matched by.
type Contact struct {
	LeadID uuid.UUID
	Email  string
	Phone  string
}

// Index is an in-memory lookup from normalized contact keys to lead IDs.
// It is built once per batch from a workspace snapshot and mutated in place
// as new leads are staged, so two rows for the same new contact within one
// batch resolve to the same lead. An Index is never shared across batches
// and is not safe for concurrent use; the store's unique constraints remain
// the source of truth.
type Index struct {
	byEmail map[string]uuid.UUID
	byPhone map[string]uuid.UUID
}

// NewIndex builds an index from existing contacts. Duplicate keys keep the
// first occurrence.
func NewIndex(contacts []Contact) *Index {
	idx := &Index{
		byEmail: make(map[string]uuid.UUID, len(contacts)),
		byPhone: make(map[string]uuid.UUID, len(contacts)),
	}
	for _, c := range contacts {
		idx.Add(c)
	}
	return idx
}

// Resolve matches normalized contact keys to a lead. Email match takes
// precedence over phone match.
func (idx *Index) Resolve(email, phone string) (uuid.UUID, bool) {
	if email != "" {
		if id, ok := idx.byEmail[email]; ok {
			return id, true
		}
	}
	if phone != "" {
		if id, ok := idx.byPhone[phone]; ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// Add registers a contact's keys. Existing keys are kept, so a staged lead
// never displaces the lead that already owns an email or phone.
func (idx *Index) Add(c Contact) {
	if c.Email != "" {
		if _, ok := idx.byEmail[c.Email]; !ok {
			idx.byEmail[c.Email] = c.LeadID
		}
	}
	if c.Phone != "" {
		if _, ok := idx.byPhone[c.Phone]; !ok {
			idx.byPhone[c.Phone] = c.LeadID
		}
	}
}

// Len returns the number of distinct email keys plus phone keys.
func (idx *Index) Len() int {
	return len(idx.byEmail) + len(idx.byPhone)
}
