// Package entitlement maps payment metadata to identity-provider group grants.
//
// An entitlement is membership in an identity-provider group. The mapper is a
// pure function over event metadata: it performs no I/O and never fails; the
// only unrecoverable defect, a missing owner, is reported to the caller.
package entitlement

import (
	"sort"
	"strings"
)

const (
	// DefaultOwnerKey is the metadata key carrying the identity-provider user id.
	DefaultOwnerKey = "user_id"

	// DefaultGroupsKey is the metadata key carrying the comma-separated group ids.
	DefaultGroupsKey = "group_ids"
)

// GroupSet is a set of opaque group identifiers.
type GroupSet map[string]struct{}

// ParseGroups parses a comma-separated list of group identifiers.
// Blank entries are dropped and duplicates collapse; "" yields an empty set.
func ParseGroups(csv string) GroupSet {
	set := make(GroupSet)
	for _, raw := range strings.Split(csv, ",") {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// NewGroupSet builds a set from the given ids.
func NewGroupSet(ids ...string) GroupSet {
	return ParseGroups(strings.Join(ids, ","))
}

// Len returns the number of groups.
func (g GroupSet) Len() int { return len(g) }

// Has reports whether id is in the set.
func (g GroupSet) Has(id string) bool {
	_, ok := g[id]
	return ok
}

// Slice returns the ids in sorted order.
func (g GroupSet) Slice() []string {
	out := make([]string, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CSV renders the set in the metadata wire form.
func (g GroupSet) CSV() string {
	return strings.Join(g.Slice(), ",")
}

// GrantRequest is the ephemeral result of mapping one payment event.
// It is applied once and discarded; nothing about it is persisted.
type GrantRequest struct {
	SubjectID     string
	GroupIDs      GroupSet
	SourceEventID string
}

// Empty reports whether there is nothing to grant.
func (r GrantRequest) Empty() bool {
	return r.GroupIDs.Len() == 0
}

// Members renders the identity-provider payload: group id -> subject ids.
func (r GrantRequest) Members() map[string][]string {
	members := make(map[string][]string, r.GroupIDs.Len())
	for _, id := range r.GroupIDs.Slice() {
		members[id] = []string{r.SubjectID}
	}
	return members
}

// Mapper knows which metadata fields carry the owner and the groups.
type Mapper struct {
	OwnerKey  string
	GroupsKey string
}

// NewMapper returns a mapper, substituting defaults for empty keys.
func NewMapper(ownerKey, groupsKey string) Mapper {
	if strings.TrimSpace(ownerKey) == "" {
		ownerKey = DefaultOwnerKey
	}
	if strings.TrimSpace(groupsKey) == "" {
		groupsKey = DefaultGroupsKey
	}
	return Mapper{OwnerKey: ownerKey, GroupsKey: groupsKey}
}

// Owner returns the owner identifier, or false when it is missing or blank.
func (m Mapper) Owner(metadata map[string]string) (string, bool) {
	owner := strings.TrimSpace(metadata[m.ownerKey()])
	return owner, owner != ""
}

// Map derives the grant for an event. Owner validation is the caller's job.
func (m Mapper) Map(eventID string, metadata map[string]string) GrantRequest {
	owner, _ := m.Owner(metadata)
	return GrantRequest{
		SubjectID:     owner,
		GroupIDs:      ParseGroups(metadata[m.groupsKey()]),
		SourceEventID: eventID,
	}
}

// Keys returns the effective owner and groups metadata keys.
func (m Mapper) Keys() (owner, groups string) {
	return m.ownerKey(), m.groupsKey()
}

func (m Mapper) ownerKey() string {
	if m.OwnerKey == "" {
		return DefaultOwnerKey
	}
	return m.OwnerKey
}

func (m Mapper) groupsKey() string {
	if m.GroupsKey == "" {
		return DefaultGroupsKey
	}
	return m.GroupsKey
}
