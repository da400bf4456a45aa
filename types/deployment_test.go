package types

import (
	"reflect"
	"testing"
)

func mustDeployment(t *testing.T, name string) *Deployment {
	t.Helper()
	d, err := NewDeployment(name)
	if err != nil {
		t.Fatalf("NewDeployment(%q): %v", name, err)
	}
	return d
}

func TestNewDeploymentRejectsBadNames(t *testing.T) {
	cases := []string{"", "1abc", "has space", "has-dash", "has.dot"}
	for _, c := range cases {
		if _, err := NewDeployment(c); err == nil {
			t.Errorf("expected NewDeployment(%q) to fail", c)
		}
	}
}

func TestAddNodeAssignsUUIDAndDefaultBacking(t *testing.T) {
	d := mustDeployment(t, "duo")

	ref, err := d.AddNode(Node{Name: "violin", Image: "helios-2.5", CPUs: 1, MemoryMB: 1024})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	n := d.Node(ref)
	if n.UUID == "" {
		t.Error("expected UUID to be assigned")
	}
	if n.Backing != ZvolClone {
		t.Errorf("expected default backing zvol-clone, got %v", n.Backing)
	}
}

func TestAddNodeRejectsDuplicateNames(t *testing.T) {
	d := mustDeployment(t, "duo")
	if _, err := d.AddNode(Node{Name: "violin"}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddNode(Node{Name: "violin"}); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
}

func TestRadixAccountsForLinksAndExtLinks(t *testing.T) {
	d := mustDeployment(t, "duo")
	violin, _ := d.AddNode(Node{Name: "violin"})
	piano, _ := d.AddNode(Node{Name: "piano"})

	if _, err := d.AddLink(
		Endpoint{Node: violin, Index: 0, Kind: Viona},
		Endpoint{Node: piano, Index: 0, Kind: Viona},
	); err != nil {
		t.Fatal(err)
	}

	if err := d.AddExtLink(ExtLink{
		Endpoint:      Endpoint{Node: violin, Index: 1, Kind: Viona},
		HostInterface: "igb0",
	}); err != nil {
		t.Fatal(err)
	}

	if got := d.Node(violin).Radix; got != 2 {
		t.Errorf("violin radix = %d, want 2", got)
	}
	if got := d.Node(piano).Radix; got != 1 {
		t.Errorf("piano radix = %d, want 1", got)
	}

	total := 2*len(d.Links) + len(d.ExtLinks)
	var sum int
	for _, n := range d.Nodes {
		sum += n.Radix
	}
	if sum != total {
		t.Errorf("sum of radix = %d, want 2*|Links|+|ExtLinks| = %d", sum, total)
	}
}

func TestSimnetAndVnicNamesAreUniquePerEndpoint(t *testing.T) {
	d := mustDeployment(t, "duo")
	violin, _ := d.AddNode(Node{Name: "violin"})
	piano, _ := d.AddNode(Node{Name: "piano"})

	if _, err := d.AddLink(
		Endpoint{Node: violin, Index: 0, Kind: Viona},
		Endpoint{Node: piano, Index: 0, Kind: Viona},
	); err != nil {
		t.Fatal(err)
	}

	eps := d.Endpoints()
	seen := map[string]bool{}
	for _, e := range eps {
		for _, name := range []string{d.SimnetName(e), d.VnicName(e)} {
			if seen[name] {
				t.Errorf("duplicate host link name %q", name)
			}
			seen[name] = true
		}
	}

	if got, want := d.SimnetName(eps[0]), "duo_violin_vn_sim0"; got != want {
		t.Errorf("simnet name = %q, want %q", got, want)
	}
	if got, want := d.VnicName(eps[0]), "duo_violin_vn_vnic0"; got != want {
		t.Errorf("vnic name = %q, want %q", got, want)
	}
}

func TestRejectsEndpointWithMalformedMAC(t *testing.T) {
	d := mustDeployment(t, "solo")
	n, _ := d.AddNode(Node{Name: "violin"})

	if _, err := d.AddLink(
		Endpoint{Node: n, Index: 0, Kind: Viona, MAC: "not-a-mac"},
		Endpoint{Node: n, Index: 1, Kind: Viona},
	); err == nil {
		t.Fatal("expected malformed MAC to be rejected at construction time")
	}
}

func TestAddLinkIgnoresCallerIndexAndAutoAssignsFromRadix(t *testing.T) {
	d := mustDeployment(t, "duo")
	violin, _ := d.AddNode(Node{Name: "violin"})
	piano, _ := d.AddNode(Node{Name: "piano"})
	other, _ := d.AddNode(Node{Name: "other"})

	// Pass deliberately wrong/colliding Index values; AddLink must ignore
	// them and auto-assign from each node's current radix instead.
	if _, err := d.AddLink(
		Endpoint{Node: violin, Index: 99, Kind: Viona},
		Endpoint{Node: piano, Index: 99, Kind: Viona},
	); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddLink(
		Endpoint{Node: violin, Index: 99, Kind: Viona},
		Endpoint{Node: other, Index: 99, Kind: Viona},
	); err != nil {
		t.Fatal(err)
	}

	if d.Links[0].A.Index != 0 {
		t.Errorf("first violin endpoint index = %d, want 0", d.Links[0].A.Index)
	}
	if d.Links[1].A.Index != 1 {
		t.Errorf("second violin endpoint index = %d, want 1", d.Links[1].A.Index)
	}
}

func TestUnmarshalRejectsDuplicatePerNodeEndpointIndex(t *testing.T) {
	d := mustDeployment(t, "duo")
	violin, _ := d.AddNode(Node{Name: "violin"})
	piano, _ := d.AddNode(Node{Name: "piano"})
	other, _ := d.AddNode(Node{Name: "other"})

	if _, err := d.AddLink(
		Endpoint{Node: violin, Kind: Viona},
		Endpoint{Node: piano, Kind: Viona},
	); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddLink(
		Endpoint{Node: violin, Kind: Viona},
		Endpoint{Node: other, Kind: Viona},
	); err != nil {
		t.Fatal(err)
	}

	// Hand-corrupt the second violin endpoint's index to collide with the
	// first one, simulating a hand-edited topology.yaml.
	d.Links[1].A.Index = d.Links[0].A.Index

	data, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected Unmarshal to reject a duplicate per-node endpoint index")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	d := mustDeployment(t, "duo")
	violin, _ := d.AddNode(Node{
		Name: "violin", Image: "helios-2.5", CPUs: 1, MemoryMB: 1024,
		Mounts: []Mount{{Source: "/tmp/solo", Dest: "/opt/solo", Mechanism: P9kpPull}},
	})
	piano, _ := d.AddNode(Node{Name: "piano", Image: "helios-2.5", CPUs: 1, MemoryMB: 1024})

	if _, err := d.AddLink(
		Endpoint{Node: violin, Index: 0, Kind: Viona},
		Endpoint{Node: piano, Index: 0, Kind: Viona},
	); err != nil {
		t.Fatal(err)
	}

	data, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !reflect.DeepEqual(d, got) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, d)
	}
}

func TestBuildInstanceSpecSlotLayout(t *testing.T) {
	d := mustDeployment(t, "softnpu")
	n, _ := d.AddNode(Node{
		Name: "router", CPUs: 2, MemoryMB: 2048,
		Mounts: []Mount{{Source: "/a", Dest: "/b", Mechanism: NineP}},
	})
	other, _ := d.AddNode(Node{Name: "peer"})

	if _, err := d.AddLink(
		Endpoint{Node: n, Index: 0, Kind: Softnpu},
		Endpoint{Node: other, Index: 0, Kind: Softnpu},
	); err != nil {
		t.Fatal(err)
	}

	spec, err := d.BuildInstanceSpec(n, "/dev/zvol/rdsk/rpool/falcon/topo/softnpu/router")
	if err != nil {
		t.Fatalf("BuildInstanceSpec: %v", err)
	}

	if spec.Components[0].Kind != ComponentDisk || spec.Components[0].Slot != (PCISlot{0, 4, 0}) {
		t.Errorf("expected primary disk at 0.4.0, got %+v", spec.Components[0])
	}
	if spec.Components[1].Kind != ComponentP9fs || spec.Components[1].Slot.Device != 5 {
		t.Errorf("expected p9fs mount at device 5, got %+v", spec.Components[1])
	}
	if spec.Components[2].Kind != ComponentSoftnpuControl || spec.Components[2].Slot.Device != 6 {
		t.Errorf("expected softnpu control device at device 6, got %+v", spec.Components[2])
	}
	if spec.Components[3].Kind != ComponentNicSoftnpu || spec.Components[3].Slot.Device != 7 {
		t.Errorf("expected softnpu nic at device 7, got %+v", spec.Components[3])
	}

	// COM4 is reserved by SoftNPU when any softnpu endpoint exists.
	for _, p := range spec.SerialPorts {
		if p == "COM4" {
			t.Errorf("expected COM4 to be reserved, not assigned, got %v", spec.SerialPorts)
		}
	}
	if len(spec.SerialPorts) != 3 {
		t.Errorf("expected 3 serial ports when softnpu present, got %d", len(spec.SerialPorts))
	}
}
