package models

import "fmt"

// PermissionSet holds the six independent capabilities a database user can
// have on one database. Connect is the gate: every other capability
// requires it.
type PermissionSet struct {
	Connect bool `json:"connect"`
	Select  bool `json:"select"`
	Insert  bool `json:"insert"`
	Update  bool `json:"update"`
	Delete  bool `json:"delete"`
	Create  bool `json:"create"`
}

// Validate rejects sets that grant capabilities without connect. Such a set
// can never be applied remotely.
func (p PermissionSet) Validate() error {
	if !p.Connect && (p.Select || p.Insert || p.Update || p.Delete || p.Create) {
		return fmt.Errorf("invalid permission set: privileges requested without connect")
	}
	return nil
}

// Any reports whether at least one capability is requested.
func (p PermissionSet) Any() bool {
	return p.Connect || p.Select || p.Insert || p.Update || p.Delete || p.Create
}

// Named permission combinations offered by the UI layer. Anything that does
// not match one of these structurally is reported as CombinationCustom.
const (
	CombinationNoAccess  = "no_access"
	CombinationReadOnly  = "read_only"
	CombinationReadWrite = "read_write"
	CombinationAll       = "all_permissions"
	CombinationCustom    = "custom"
)

var combinations = []struct {
	Name string
	Set  PermissionSet
}{
	{CombinationNoAccess, PermissionSet{Connect: true}},
	{CombinationReadOnly, PermissionSet{Connect: true, Select: true}},
	{CombinationReadWrite, PermissionSet{Connect: true, Select: true, Insert: true, Update: true, Delete: true}},
	{CombinationAll, PermissionSet{Connect: true, Select: true, Insert: true, Update: true, Delete: true, Create: true}},
}

// CombinationSet returns the fixed PermissionSet for a named combination.
func CombinationSet(name string) (PermissionSet, bool) {
	for _, c := range combinations {
		if c.Name == name {
			return c.Set, true
		}
	}
	return PermissionSet{}, false
}

// DetectCombination matches a set against the named combinations by
// structural equality, most restrictive first.
func DetectCombination(p PermissionSet) string {
	for _, c := range combinations {
		if p == c.Set {
			return c.Name
		}
	}
	return CombinationCustom
}

// CombinationNames lists the named combinations in detection order.
func CombinationNames() []string {
	names := make([]string, 0, len(combinations))
	for _, c := range combinations {
		names = append(names, c.Name)
	}
	return names
}
