// Package model contains domain models passed between layers.
package model

import (
	"slices"
)

// UserID is an opaque user identifier.
type UserID int64

// ItemID is an opaque item identifier.
type ItemID int64

// ItemSet is an unordered set of items.
type ItemSet map[ItemID]struct{}

// NewItemSet builds a set from the given items.
func NewItemSet(items ...ItemID) ItemSet {
	s := make(ItemSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has reports whether item is a member of the set.
func (s ItemSet) Has(item ItemID) bool {
	_, ok := s[item]
	return ok
}

// Add inserts item into the set.
func (s ItemSet) Add(item ItemID) { s[item] = struct{}{} }

// Sorted returns the members in ascending order.
func (s ItemSet) Sorted() []ItemID {
	out := make([]ItemID, 0, len(s))
	for it := range s {
		out = append(out, it)
	}
	slices.Sort(out)
	return out
}

// Recommendations maps a user to items ranked by descending predicted
// relevance; index 0 is the most relevant.
type Recommendations map[UserID][]ItemID

// Users returns the keys in ascending order so callers iterate deterministically.
func (r Recommendations) Users() []UserID {
	return sortedKeys(r)
}

// Relevance maps a user to the items they interacted with in the held-out period.
type Relevance map[UserID]ItemSet

// Users returns the keys in ascending order.
func (r Relevance) Users() []UserID {
	return sortedKeys(r)
}

func sortedKeys[V any](m map[UserID]V) []UserID {
	out := make([]UserID, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// GroupByUser collects the items of every user in t into a Relevance.
func GroupByUser(t Table) Relevance {
	rel := make(Relevance)
	for _, r := range t.Rows {
		set, ok := rel[r.UserID]
		if !ok {
			set = make(ItemSet)
			rel[r.UserID] = set
		}
		set.Add(r.ItemID)
	}
	return rel
}

// Items returns the distinct items referenced by t.
func Items(t Table) ItemSet {
	s := make(ItemSet)
	for _, r := range t.Rows {
		s.Add(r.ItemID)
	}
	return s
}

// Users returns the distinct users referenced by t.
func Users(t Table) map[UserID]struct{} {
	s := make(map[UserID]struct{})
	for _, r := range t.Rows {
		s[r.UserID] = struct{}{}
	}
	return s
}
