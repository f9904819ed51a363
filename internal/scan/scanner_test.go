package scan

import "testing"

func TestHostsExcludesNetworkAndBroadcast(t *testing.T) {
	hosts, err := Hosts("192.168.1.0/30")
	if err != nil {
		t.Fatalf("Hosts: %v", err)
	}
	// /30 has 4 addresses total; network and broadcast are excluded,
	// leaving exactly 2 usable hosts.
	if len(hosts) != 2 {
		t.Fatalf("expected 2 usable hosts, got %d: %v", len(hosts), hosts)
	}
	if hosts[0].String() != "192.168.1.1" || hosts[1].String() != "192.168.1.2" {
		t.Fatalf("unexpected host list: %v", hosts)
	}
}

func TestHostsRejectsInvalidCIDR(t *testing.T) {
	if _, err := Hosts("not-a-cidr"); err == nil {
		t.Fatalf("expected an error for a malformed CIDR")
	}
}
