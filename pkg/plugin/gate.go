package plugin

import "slices"

// checkAllowed verifies every capability in caps appears in policy's
// allow-set, returning CapabilityViolation naming the first offender.
func checkAllowed(caps []Capability, policy Policy) error {
	for _, c := range caps {
		if !policy.allows(c) {
			return NewRuntimeError(CodeCapabilityViolation, "capability not permitted by policy: "+string(c))
		}
	}
	return nil
}

// checkSubset verifies every capability in sub appears in super, used to
// enforce that a worker's reported capabilities never exceed what its
// manifest declared.
func checkSubset(sub, super []Capability) error {
	for _, c := range sub {
		if !slices.Contains(super, c) {
			return NewRuntimeError(CodeCapabilityViolation, "reported capability not declared by manifest: "+string(c))
		}
	}
	return nil
}
