package types

import (
	"fmt"
	"regexp"

	"github.com/gofrs/uuid"
)

// nameRegex is the naming rule for both deployment and node names. It is
// enforced once, at construction time, and never re-checked afterward
// (spec.md §3 "Invariants").
var nameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidName reports whether s satisfies Falcon's naming rule.
func ValidName(s string) bool {
	return nameRegex.MatchString(s)
}

// Deployment is a named, flat container of Nodes, Links, and ExtLinks.
// Nodes/Links/ExtLinks are added monotonically during construction; after
// Launch the Deployment is treated as read-only (spec.md §5). Empty
// Nodes/Links/ExtLinks are omitted from the YAML form, so a nil slice reads
// back as nil.
type Deployment struct {
	Name     string    `yaml:"name" json:"name"`
	Nodes    []Node    `yaml:"nodes,omitempty" json:"nodes"`
	Links    []Link    `yaml:"links,omitempty" json:"links"`
	ExtLinks []ExtLink `yaml:"ext_links,omitempty" json:"ext_links"`
}

// NewDeployment constructs an empty Deployment, validating name up front.
func NewDeployment(name string) (*Deployment, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("invalid deployment name %q: must match %s", name, nameRegex.String())
	}

	return &Deployment{Name: name}, nil
}

// AddNode appends a node, assigning it a UUID if one wasn't supplied, and
// returns a stable NodeRef for later use in Links/ExtLinks.
func (d *Deployment) AddNode(n Node) (NodeRef, error) {
	if !ValidName(n.Name) {
		return 0, fmt.Errorf("invalid node name %q: must match %s", n.Name, nameRegex.String())
	}

	for _, existing := range d.Nodes {
		if existing.Name == n.Name {
			return 0, fmt.Errorf("duplicate node name %q", n.Name)
		}
	}

	if n.UUID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return 0, fmt.Errorf("generating node uuid: %w", err)
		}
		n.UUID = id.String()
	}

	if n.Backing == "" {
		n.Backing = ZvolClone
	}

	d.Nodes = append(d.Nodes, n)
	return NodeRef(len(d.Nodes) - 1), nil
}

// Node returns a pointer to the node identified by ref. Panics if ref is
// out of range, matching the "indices are stable for the lifetime of the
// Deployment" invariant: an out-of-range ref is a programming error, not a
// runtime condition to recover from.
func (d *Deployment) Node(ref NodeRef) *Node {
	return &d.Nodes[ref]
}

// AddLink appends an internal point-to-point link between two endpoints
// and recomputes the radix of both endpoints' nodes. Each endpoint's Index
// is assigned from its node's current radix, not taken from the caller: the
// same by-construction guarantee the original Falcon's Runner::link gives,
// making a duplicate per-node index structurally impossible for anything
// built through this call rather than loaded from YAML (see Validate).
func (d *Deployment) AddLink(a, b Endpoint) (LinkRef, error) {
	if err := d.checkEndpoint(a); err != nil {
		return 0, err
	}
	if err := d.checkEndpoint(b); err != nil {
		return 0, err
	}

	a.Index = d.Nodes[a.Node].Radix
	d.Nodes[a.Node].Radix++
	b.Index = d.Nodes[b.Node].Radix
	d.Nodes[b.Node].Radix++

	d.Links = append(d.Links, Link{A: a, B: b})

	return LinkRef(len(d.Links) - 1), nil
}

// AddExtLink appends a link from one endpoint out to a named host
// interface, assigning the endpoint's Index from its node's current radix
// the same way AddLink does.
func (d *Deployment) AddExtLink(e ExtLink) error {
	if err := d.checkEndpoint(e.Endpoint); err != nil {
		return err
	}
	if e.HostInterface == "" {
		return fmt.Errorf("ext link endpoint requires a host interface name")
	}

	e.Endpoint.Index = d.Nodes[e.Endpoint.Node].Radix
	d.Nodes[e.Endpoint.Node].Radix++

	d.ExtLinks = append(d.ExtLinks, e)

	return nil
}

func (d *Deployment) checkEndpoint(e Endpoint) error {
	if int(e.Node) < 0 || int(e.Node) >= len(d.Nodes) {
		return fmt.Errorf("endpoint references unknown node ref %d", e.Node)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("endpoint has invalid kind %q", e.Kind)
	}
	if e.MAC != "" {
		if _, err := ParseMAC(e.MAC); err != nil {
			return fmt.Errorf("endpoint mac: %w", err)
		}
	}
	return nil
}

// recomputeRadix recounts, for every node, the number of endpoints
// referencing it across Links and ExtLinks combined.
func (d *Deployment) recomputeRadix() {
	counts := make([]int, len(d.Nodes))

	for _, l := range d.Links {
		counts[l.A.Node]++
		counts[l.B.Node]++
	}
	for _, e := range d.ExtLinks {
		counts[e.Endpoint.Node]++
	}

	for i := range d.Nodes {
		d.Nodes[i].Radix = counts[i]
	}
}

// Endpoints returns every endpoint in the deployment, from both Links and
// ExtLinks, in declaration order. Used by invariant checks and by naming.
func (d *Deployment) Endpoints() []Endpoint {
	var eps []Endpoint
	for _, l := range d.Links {
		eps = append(eps, l.A, l.B)
	}
	for _, e := range d.ExtLinks {
		eps = append(eps, e.Endpoint)
	}
	return eps
}

// SimnetName returns the host simnet name for an endpoint:
// {deployment}_{node.name}_{kind-tag}_sim{index}.
func (d *Deployment) SimnetName(e Endpoint) string {
	node := d.Node(e.Node)
	return fmt.Sprintf("%s_%s_%s_sim%d", d.Name, node.Name, e.Kind.tag(), e.Index)
}

// VnicName returns the host vnic name for an endpoint:
// {deployment}_{node.name}_{kind-tag}_vnic{index}.
func (d *Deployment) VnicName(e Endpoint) string {
	node := d.Node(e.Node)
	return fmt.Sprintf("%s_%s_%s_vnic%d", d.Name, node.Name, e.Kind.tag(), e.Index)
}

// HasSoftnpu reports whether any endpoint in the deployment is a softnpu
// endpoint. Used to decide whether COM4 is reserved for SoftNPU control.
func (d *Deployment) HasSoftnpu() bool {
	for _, e := range d.Endpoints() {
		if e.Kind == Softnpu {
			return true
		}
	}
	return false
}

// NodeEndpoints returns, in declared order, every endpoint attached to the
// given node across both Links and ExtLinks, ordered by the endpoint's
// per-node Index.
func (d *Deployment) NodeEndpoints(ref NodeRef) []Endpoint {
	var eps []Endpoint

	for _, l := range d.Links {
		if l.A.Node == ref {
			eps = append(eps, l.A)
		}
		if l.B.Node == ref {
			eps = append(eps, l.B)
		}
	}
	for _, e := range d.ExtLinks {
		if e.Endpoint.Node == ref {
			eps = append(eps, e.Endpoint)
		}
	}

	sortEndpointsByIndex(eps)
	return eps
}

// Validate recomputes every node's radix from its current Links/ExtLinks
// and rejects a per-node duplicate endpoint Index. AddLink/AddExtLink make
// a duplicate index structurally impossible by auto-assigning it from the
// node's radix, but a hand-edited or generated topology.yaml loaded through
// Unmarshal bypasses both calls entirely, so nothing else catches a
// collision before it silently violates spec.md §8's
// simnet_name(e) != simnet_name(e') invariant. Unmarshal calls this
// automatically.
func (d *Deployment) Validate() error {
	d.recomputeRadix()

	seen := make([]map[int]bool, len(d.Nodes))
	for i := range seen {
		seen[i] = map[int]bool{}
	}

	for _, e := range d.Endpoints() {
		if int(e.Node) < 0 || int(e.Node) >= len(d.Nodes) {
			return fmt.Errorf("endpoint references unknown node ref %d", e.Node)
		}
		if seen[e.Node][e.Index] {
			return fmt.Errorf("node %q has duplicate endpoint index %d", d.Nodes[e.Node].Name, e.Index)
		}
		seen[e.Node][e.Index] = true
	}

	return nil
}

func sortEndpointsByIndex(eps []Endpoint) {
	for i := 1; i < len(eps); i++ {
		for j := i; j > 0 && eps[j].Index < eps[j-1].Index; j-- {
			eps[j], eps[j-1] = eps[j-1], eps[j]
		}
	}
}
