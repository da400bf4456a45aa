// Package types is Falcon's data model: a flat arena of Nodes, Links, and
// ExtLinks that together describe a Deployment's topology. Cross
// references (a Link's two Endpoints, an ExtLink's Endpoint) are plain
// indices (NodeRef) rather than pointers, so the whole structure is
// trivially deep-copyable and serializable without lifetime cycles.
package types

// NodeRef is a stable index into a Deployment's Nodes slice. Indices never
// change once assigned, even if later nodes are added.
type NodeRef int

// LinkRef is a stable index into a Deployment's Links slice.
type LinkRef int

// EndpointKind selects the kind of virtual NIC an Endpoint is realized as,
// which in turn determines host device naming and the component emitted
// into the VM's instance spec.
type EndpointKind string

const (
	Viona   EndpointKind = "viona"
	Softnpu EndpointKind = "softnpu"
)

func (k EndpointKind) Valid() bool {
	return k == Viona || k == Softnpu
}

// tag returns the short host-device-naming tag for this kind, used when
// building simnet/vnic names (e.g. "..._vn_sim0" vs "..._snp_sim0").
func (k EndpointKind) tag() string {
	switch k {
	case Softnpu:
		return "snp"
	default:
		return "vn"
	}
}

// Endpoint is one side of a Link, or the sole side of an ExtLink. It names
// the node it's attached to, that node's per-node endpoint index (used in
// host device naming), the kind of device it presents to the guest, and an
// optional operator-supplied MAC.
type Endpoint struct {
	Node  NodeRef      `yaml:"node" json:"node"`
	Index int          `yaml:"index" json:"index"`
	Kind  EndpointKind `yaml:"kind" json:"kind"`
	MAC   string       `yaml:"mac,omitempty" json:"mac,omitempty"`
}

// Link is an unordered, strictly point-to-point pair of Endpoints.
type Link struct {
	A Endpoint `yaml:"a" json:"a"`
	B Endpoint `yaml:"b" json:"b"`
}

// Endpoints returns both endpoints of the link as a slice, for callers
// that want to range over them uniformly.
func (l Link) Endpoints() [2]Endpoint {
	return [2]Endpoint{l.A, l.B}
}

// ExtLink attaches an Endpoint's vnic over a named host interface instead
// of over a simnet peer.
type ExtLink struct {
	Endpoint      Endpoint `yaml:"endpoint" json:"endpoint"`
	HostInterface string   `yaml:"host_interface" json:"host_interface"`
}

// MountMechanism selects how a Mount is realized inside the guest.
type MountMechanism string

const (
	P9kpPull MountMechanism = "p9kp-pull"
	NineP    MountMechanism = "9p-mount"
)

// Mount describes one host-path-into-guest-path share.
type Mount struct {
	// Source is the canonicalized (absolute, symlink-resolved) host path.
	Source string `yaml:"source" json:"source"`
	// Dest is the guest-side destination path.
	Dest string `yaml:"dest" json:"dest"`

	Mechanism MountMechanism `yaml:"mechanism" json:"mechanism"`
}

// DiskBacking selects how a Node's primary block device is materialized.
type DiskBacking string

const (
	ZvolClone DiskBacking = "zvol-clone"
	FileCopy  DiskBacking = "file-copy"
)

// SMBIOSInfo is optional SMBIOS Type-1 (system information) data injected
// into a Node's instance spec.
type SMBIOSInfo struct {
	Manufacturer string `yaml:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	Product      string `yaml:"product,omitempty" json:"product,omitempty"`
	Version      string `yaml:"version,omitempty" json:"version,omitempty"`
	Serial       string `yaml:"serial,omitempty" json:"serial,omitempty"`
	SKU          string `yaml:"sku,omitempty" json:"sku,omitempty"`
	Family       string `yaml:"family,omitempty" json:"family,omitempty"`
}

// Node describes one VM in the topology.
type Node struct {
	Name     string `yaml:"name" json:"name"`
	Image    string `yaml:"image" json:"image"`
	CPUs     int    `yaml:"cpus" json:"cpus"`
	MemoryMB int    `yaml:"memory_mb" json:"memory_mb"`
	UUID     string `yaml:"uuid" json:"uuid"`

	// Radix is the number of endpoints referencing this node across Links
	// and ExtLinks combined. It's derived, not operator-supplied, but kept
	// as a serialized field since `destroy`/`exec` reconstitute a
	// Deployment without re-running the original builder calls.
	Radix int `yaml:"radix" json:"radix"`

	Mounts     []Mount     `yaml:"mounts,omitempty" json:"mounts,omitempty"`
	ReservedGB int         `yaml:"reserved_gb" json:"reserved_gb"`
	Backing    DiskBacking `yaml:"backing" json:"backing"`

	VNCPort *int `yaml:"vnc_port,omitempty" json:"vnc_port,omitempty"`

	// DoSetup gates whether the serial commander performs first-boot
	// guest setup (mounts, hostname, /etc/hosts, /etc/nodename) after
	// launch.
	DoSetup bool `yaml:"do_setup" json:"do_setup"`

	SMBIOS *SMBIOSInfo `yaml:"smbios,omitempty" json:"smbios,omitempty"`
}
