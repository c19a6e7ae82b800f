package peer

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

func TestResolveFrom(t *testing.T) {
	observed := netip.MustParseAddr("192.0.2.7")

	p := Peer{Port: 9000}
	if got := p.ResolveFrom(observed); got.String() != "192.0.2.7:9000" {
		t.Fatalf("no alias: got %s", got)
	}

	p.HostAlias = netip.MustParseAddr("198.51.100.1")
	if got := p.ResolveFrom(observed); got.String() != "198.51.100.1:9000" {
		t.Fatalf("alias: got %s", got)
	}

	mapped := netip.MustParseAddr("::ffff:192.0.2.7")
	if got := (Peer{Port: 1}).ResolveFrom(mapped); got.String() != "192.0.2.7:1" {
		t.Fatalf("v4-mapped observed not unmapped: got %s", got)
	}
}

func TestAddrDefaultsToLoopback(t *testing.T) {
	if got := (Peer{Port: 8080}).Addr().String(); got != "127.0.0.1:8080" {
		t.Fatalf("Addr = %s", got)
	}
}

func TestDescriptorValidation(t *testing.T) {
	alias := "10.1.2.3"
	bad := "not-an-ip"
	tests := []struct {
		name    string
		in      Descriptor
		wantErr error
	}{
		{name: "ok", in: Descriptor{Port: 8080, Period: 5}},
		{name: "ok alias", in: Descriptor{Port: 8080, HostAlias: &alias}},
		{name: "zero port", in: Descriptor{Port: 0}, wantErr: ErrInvalidPort},
		{name: "port too large", in: Descriptor{Port: 70000}, wantErr: ErrInvalidPort},
		{name: "negative period", in: Descriptor{Port: 1, Period: -1}, wantErr: ErrInvalidPeriod},
		{name: "bad alias", in: Descriptor{Port: 1, HostAlias: &bad}, wantErr: ErrInvalidAlias},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Peer()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	p := Peer{
		Started:   time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Period:    7 * time.Second,
		Port:      4242,
		HostAlias: netip.MustParseAddr("10.0.0.9"),
	}
	got, err := p.Descriptor().Peer()
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("round trip = %+v, want %+v", got, p)
	}
}

func TestDecodeSnapshotRejectsBadEntry(t *testing.T) {
	_, err := DecodeSnapshot(map[string]Descriptor{
		"127.0.0.1:9001": {Port: 9001},
		"nonsense":       {Port: 9002},
	})
	if err == nil {
		t.Fatal("expected error for malformed address key")
	}

	_, err = DecodeSnapshot(map[string]Descriptor{"127.0.0.1:9001": {Port: 0}})
	if !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("err = %v, want ErrInvalidPort", err)
	}
}
