package mdib

import (
	"fmt"
	"strconv"
)

// VersionGroup identifies one point in the history of an MDIB.
//
// Within one SequenceID the MdibVersion grows by one per committed device
// transaction. A new SequenceID starts a new epoch; versions of different
// epochs are not comparable.
type VersionGroup struct {
	MdibVersion uint64  `json:"mdib_version"`
	SequenceID  string  `json:"sequence_id"`
	InstanceID  *uint32 `json:"instance_id,omitempty"`
}

// Equal compares all three members.
func (v VersionGroup) Equal(other VersionGroup) bool {
	if v.MdibVersion != other.MdibVersion || v.SequenceID != other.SequenceID {
		return false
	}

	if v.InstanceID == nil || other.InstanceID == nil {
		return v.InstanceID == nil && other.InstanceID == nil
	}

	return *v.InstanceID == *other.InstanceID
}

// Copy returns a copy that does not share the InstanceID pointer.
func (v VersionGroup) Copy() VersionGroup {
	if v.InstanceID != nil {
		id := *v.InstanceID
		v.InstanceID = &id
	}

	return v
}

func (v VersionGroup) String() string {
	instance := "-"
	if v.InstanceID != nil {
		instance = strconv.FormatUint(uint64(*v.InstanceID), 10)
	}

	return fmt.Sprintf("mdib_version=%d sequence_id=%s instance_id=%s", v.MdibVersion, v.SequenceID, instance)
}

// Instance returns a pointer to id, for building version groups.
func Instance(id uint32) *uint32 {
	return &id
}
