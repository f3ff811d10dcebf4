package bitfield

import "testing"

func TestSetHas(t *testing.T) {
	bf := New(20)

	if bf.Has(3) {
		t.Fatalf("expected bit 3 unset")
	}

	bf.Set(3)

	if !bf.Has(3) {
		t.Fatalf("expected bit 3 set")
	}

	if bf.Has(4) {
		t.Fatalf("expected bit 4 unset")
	}
}

func TestMSBFirst(t *testing.T) {
	bf := New(8)
	bf.Set(0)

	if bf[0] != 0x80 {
		t.Fatalf("expected MSB set, got %08b", bf[0])
	}
}

func TestOutOfRange(t *testing.T) {
	bf := New(4)

	if bf.Has(100) {
		t.Fatalf("out-of-range Has must be false")
	}

	bf.Set(100) // must not panic
}

func TestFromWireLengthMismatch(t *testing.T) {
	_, err := FromWire(make([]byte, 2), 20) // want ceil(20/8)=3
	if err == nil {
		t.Fatalf("expected length error")
	}
}

func TestFromWireOK(t *testing.T) {
	payload := []byte{0x80, 0x00, 0x00}
	bf, err := FromWire(payload, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bf.Has(0) {
		t.Fatalf("expected bit 0 set")
	}

	if bf.Count() != 1 {
		t.Fatalf("expected count 1, got %d", bf.Count())
	}
}
