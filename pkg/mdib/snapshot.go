package mdib

import (
	"fmt"
)

// Snapshot is a complete, self-contained copy of an MDIB: what a GetMdib
// response carries. States holds single states and context states together.
type Snapshot struct {
	Version     VersionGroup  `json:"version"`
	Descriptors []*Descriptor `json:"descriptors"`
	States      []*State      `json:"states"`
}

// Validate checks the tree and cardinality invariants without touching an MDIB:
//   - handles are unique and non-empty
//   - every non-root parent exists and the parent links are acyclic
//   - every state references a descriptor of the same node type
//   - single-state descriptors have at most one state
//   - context states have unique handles
func (s Snapshot) Validate() error {
	byHandle := make(map[string]*Descriptor, len(s.Descriptors))

	for _, d := range s.Descriptors {
		if d == nil || d.Handle == "" {
			return fmt.Errorf("%w: descriptor without handle", ErrStructural)
		}

		if _, dup := byHandle[d.Handle]; dup {
			return &Error{Handle: d.Handle, Err: fmt.Errorf("%w: duplicate descriptor handle", ErrStructural)}
		}

		byHandle[d.Handle] = d
	}

	for _, d := range s.Descriptors {
		if d.IsRoot() {
			continue
		}

		if _, ok := byHandle[d.ParentHandle]; !ok {
			return &Error{Handle: d.Handle, Parent: d.ParentHandle, Err: fmt.Errorf("%w: parent not found", ErrStructural)}
		}
	}

	for _, d := range s.Descriptors {
		// walk up; a path longer than the descriptor count is a cycle
		current := d
		for range len(byHandle) + 1 {
			if current.IsRoot() {
				break
			}

			current = byHandle[current.ParentHandle]
		}

		if !current.IsRoot() {
			return &Error{Handle: d.Handle, Err: fmt.Errorf("%w: parent cycle", ErrStructural)}
		}
	}

	singles := map[string]bool{}
	contexts := map[string]bool{}

	for _, st := range s.States {
		if st == nil {
			return fmt.Errorf("%w: nil state", ErrStructural)
		}

		d, ok := byHandle[st.DescriptorHandle]
		if !ok {
			return &Error{Handle: st.DescriptorHandle, Err: fmt.Errorf("%w: state for unknown descriptor", ErrStructural)}
		}

		if st.NodeType != d.NodeType {
			return &Error{Handle: st.DescriptorHandle, Err: fmt.Errorf("%w: state node type %s does not match descriptor %s", ErrStructural, st.NodeType, d.NodeType)}
		}

		if st.IsContextState() {
			if st.Handle == "" || contexts[st.Handle] {
				return &Error{Handle: st.DescriptorHandle, Err: fmt.Errorf("%w: context state handle %q empty or duplicate", ErrStructural, st.Handle)}
			}

			contexts[st.Handle] = true

			continue
		}

		if singles[st.DescriptorHandle] {
			return &Error{Handle: st.DescriptorHandle, Err: fmt.Errorf("%w: more than one state for descriptor", ErrStructural)}
		}

		singles[st.DescriptorHandle] = true
	}

	return nil
}

// parentFirst orders descriptors so every parent precedes its children,
// keeping the original order otherwise. Assumes Validate passed.
func (s Snapshot) parentFirst() []*Descriptor {
	children := map[string][]*Descriptor{}

	var roots []*Descriptor

	for _, d := range s.Descriptors {
		if d.IsRoot() {
			roots = append(roots, d)
			continue
		}

		children[d.ParentHandle] = append(children[d.ParentHandle], d)
	}

	out := make([]*Descriptor, 0, len(s.Descriptors))
	queue := roots

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		out = append(out, d)
		queue = append(queue, children[d.Handle]...)
	}

	return out
}

// Copy returns a deep copy.
func (s Snapshot) Copy() Snapshot {
	return Snapshot{
		Version:     s.Version.Copy(),
		Descriptors: copyDescriptors(s.Descriptors),
		States:      copyStates(s.States),
	}
}
