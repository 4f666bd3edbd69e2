package resolver

import (
	"github.com/marmos91/microtower/pkg/registry"
)

// Step is one entry of a resolution plan.
type Step struct {
	Pass         int
	Name         string
	Key          registry.TypeKey
	Dependencies []registry.TypeKey
}

// Plan runs the same fixed point as Resolve using only the declared
// dependency lists, without calling any factory. It returns the order in
// which Resolve would create the services, or a *CycleError.
func Plan(descriptors []Descriptor) ([]Step, error) {
	if err := validate(descriptors); err != nil {
		return nil, err
	}

	created := make(map[registry.TypeKey]struct{}, len(descriptors))
	contains := func(k registry.TypeKey) bool {
		_, ok := created[k]
		return ok
	}

	var steps []Step
	pass := 0
	empty, changed := false, true
	for !empty && changed {
		pass++
		empty, changed = true, false
		for _, d := range descriptors {
			if contains(d.Key) {
				continue
			}
			empty = false

			ready := true
			for _, dep := range d.Dependencies {
				if !contains(dep) {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}

			created[d.Key] = struct{}{}
			changed = true
			steps = append(steps, Step{
				Pass:         pass,
				Name:         d.label(),
				Key:          d.Key,
				Dependencies: d.Dependencies,
			})
		}
	}

	if !empty {
		cycle := &CycleError{}
		for _, d := range descriptors {
			if !contains(d.Key) {
				cycle.Unresolved = append(cycle.Unresolved, d)
			}
		}
		return steps, cycle
	}
	return steps, nil
}
