package types

import "gopkg.in/yaml.v3"

// Marshal serializes a Deployment to its topology.ron form. The encoder is
// YAML (gopkg.in/yaml.v3, a real corpus dependency); field order follows
// struct declaration order, which is fixed, so the output is deterministic
// and the ".ron" file is part of the external contract even though the
// encoding itself isn't Rust's RON (see DESIGN.md).
func Marshal(d *Deployment) ([]byte, error) {
	return yaml.Marshal(d)
}

// Unmarshal parses a topology.ron document back into a Deployment,
// rejecting one with duplicate per-node endpoint indices (see Validate).
func Unmarshal(data []byte) (*Deployment, error) {
	var d Deployment
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
