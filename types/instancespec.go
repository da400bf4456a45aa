package types

import "fmt"

// PCISlot is a PCI bus/device/function address within the VM's virtual
// chipset.
type PCISlot struct {
	Bus      int `yaml:"bus" json:"bus" mapstructure:"bus"`
	Device   int `yaml:"device" json:"device" mapstructure:"device"`
	Function int `yaml:"function" json:"function" mapstructure:"function"`
}

func (s PCISlot) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Bus, s.Device, s.Function)
}

// ComponentKind names the kind of device a Component describes.
type ComponentKind string

const (
	ComponentDisk           ComponentKind = "disk"
	ComponentP9fs           ComponentKind = "p9fs"
	ComponentNicViona       ComponentKind = "nic-viona"
	ComponentNicSoftnpu     ComponentKind = "nic-softnpu"
	ComponentSoftnpuControl ComponentKind = "softnpu-control"
)

// Component is one device entry in a Node's instance spec: a PCI slot plus
// whatever the hypervisor needs to attach the right backing to it.
type Component struct {
	Slot    PCISlot       `yaml:"slot" json:"slot" mapstructure:"slot"`
	Kind    ComponentKind `yaml:"kind" json:"kind" mapstructure:"kind"`
	Backing string        `yaml:"backing,omitempty" json:"backing,omitempty" mapstructure:"backing,omitempty"`
	MAC     string        `yaml:"mac,omitempty" json:"mac,omitempty" mapstructure:"mac,omitempty"`
	Source  string        `yaml:"source,omitempty" json:"source,omitempty" mapstructure:"source,omitempty"`
	Dest    string        `yaml:"dest,omitempty" json:"dest,omitempty" mapstructure:"dest,omitempty"`
}

// Board describes the virtual machine's CPU/memory/chipset.
type Board struct {
	CPUs            int    `yaml:"cpus" json:"cpus" mapstructure:"cpus"`
	MemoryMB        int    `yaml:"memory_mb" json:"memory_mb" mapstructure:"memory_mb"`
	Chipset         string `yaml:"chipset" json:"chipset" mapstructure:"chipset"`
	PCIeDisabled    bool   `yaml:"pcie_disabled" json:"pcie_disabled" mapstructure:"pcie_disabled"`
}

// InstanceSpec is the assembled description handed to the hypervisor's
// control API via instance_ensure.
type InstanceSpec struct {
	Name       string      `yaml:"name" json:"name" mapstructure:"name"`
	UUID       string      `yaml:"uuid" json:"uuid" mapstructure:"uuid"`
	Board      Board       `yaml:"board" json:"board" mapstructure:"board"`
	Components []Component `yaml:"components" json:"components" mapstructure:"components"`
	SerialPorts []string   `yaml:"serial_ports" json:"serial_ports" mapstructure:"serial_ports"`
	SMBIOS     *SMBIOSInfo `yaml:"smbios,omitempty" json:"smbios,omitempty" mapstructure:"smbios,omitempty"`
}

const (
	primaryDiskBus    = 0
	primaryDiskDevice = 4
	mountsStartDevice = 5
)

// BuildInstanceSpec assembles a Node's instance spec from the deployment's
// view of its endpoints (spec.md §3 invariants):
//
//   - exactly one primary block device at PCI path 0.4.0
//   - p9fs mounts at slots 5..5+|mounts|-1, in declared order
//   - a SoftNPU control device immediately after the mounts, if this node
//     has any softnpu endpoint
//   - NICs at the subsequent slots, in endpoint-index order
//   - serial ports COM1..COM3, plus COM4 only when the deployment has no
//     softnpu endpoint anywhere (otherwise COM4 is left to SoftNPU)
func (d *Deployment) BuildInstanceSpec(ref NodeRef, primaryDiskBacking string) (InstanceSpec, error) {
	node := d.Node(ref)

	spec := InstanceSpec{
		Name: node.Name,
		UUID: node.UUID,
		Board: Board{
			CPUs:         node.CPUs,
			MemoryMB:     node.MemoryMB,
			Chipset:      "i440fx",
			PCIeDisabled: true,
		},
		SMBIOS: node.SMBIOS,
	}

	spec.Components = append(spec.Components, Component{
		Slot:    PCISlot{Bus: primaryDiskBus, Device: primaryDiskDevice, Function: 0},
		Kind:    ComponentDisk,
		Backing: primaryDiskBacking,
	})

	dev := mountsStartDevice
	for _, m := range node.Mounts {
		spec.Components = append(spec.Components, Component{
			Slot:   PCISlot{Bus: 0, Device: dev, Function: 0},
			Kind:   ComponentP9fs,
			Source: m.Source,
			Dest:   m.Dest,
		})
		dev++
	}

	hasLocalSoftnpu := false
	for _, e := range d.NodeEndpoints(ref) {
		if e.Kind == Softnpu {
			hasLocalSoftnpu = true
			break
		}
	}

	if hasLocalSoftnpu {
		spec.Components = append(spec.Components, Component{
			Slot: PCISlot{Bus: 0, Device: dev, Function: 0},
			Kind: ComponentSoftnpuControl,
		})
		dev++
	}

	for _, e := range d.NodeEndpoints(ref) {
		kind := ComponentNicViona
		if e.Kind == Softnpu {
			kind = ComponentNicSoftnpu
		}

		spec.Components = append(spec.Components, Component{
			Slot: PCISlot{Bus: 0, Device: dev, Function: 0},
			Kind: kind,
			MAC:  e.MAC,
		})
		dev++
	}

	spec.SerialPorts = []string{"COM1", "COM2", "COM3"}
	if d.HasSoftnpu() {
		// COM4 is reserved, not assigned to the guest, when any softnpu
		// component exists anywhere in the deployment.
	} else {
		spec.SerialPorts = append(spec.SerialPorts, "COM4")
	}

	return spec, nil
}
