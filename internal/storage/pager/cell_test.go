package pager

import (
	"bytes"
	"testing"
)

func TestComputeLocalInlineBoundary(t *testing.T) {
	const U = 4096
	X := U - 35
	local, overflow := computeLocal(U, X)
	if overflow || local != X {
		t.Fatalf("payload exactly at X: got (%d,%v), want (%d,false)", local, overflow, X)
	}
	local, overflow = computeLocal(U, X+1)
	if !overflow {
		t.Fatalf("payload X+1 bytes must overflow")
	}
	if local <= 0 || local > X {
		t.Fatalf("overflow local size %d out of range (0,%d]", local, X)
	}
}

func TestTableLeafCellRoundTripInline(t *testing.T) {
	const U = 4096
	payload := bytes.Repeat([]byte{0x5A}, 40)
	buf := EncodeTableLeafCell(U, 12345, payload, InvalidPageID)
	c, n, err := DecodeTableLeafCell(buf, U)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("decode consumed %d bytes, cell is %d bytes", n, len(buf))
	}
	if c.Rowid != 12345 {
		t.Fatalf("rowid = %d, want 12345", c.Rowid)
	}
	if c.TotalSize != len(payload) {
		t.Fatalf("TotalSize = %d, want %d", c.TotalSize, len(payload))
	}
	if !bytes.Equal(c.LocalPayload, payload) {
		t.Fatalf("local payload mismatch")
	}
	if c.Overflow != InvalidPageID {
		t.Fatalf("expected no overflow pointer for inline payload")
	}
}

func TestTableLeafCellRoundTripOverflow(t *testing.T) {
	const U = 512
	X := U - 35
	payload := bytes.Repeat([]byte{0x11}, X+200)
	buf := EncodeTableLeafCell(U, 77, payload, PageID(9))
	c, n, err := DecodeTableLeafCell(buf, U)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("decode consumed %d, want %d", n, len(buf))
	}
	if c.Overflow != PageID(9) {
		t.Fatalf("Overflow = %d, want 9", c.Overflow)
	}
	local, _ := computeLocal(U, len(payload))
	if len(c.LocalPayload) != local {
		t.Fatalf("local payload length %d, want %d", len(c.LocalPayload), local)
	}
	if !bytes.Equal(c.LocalPayload, payload[:local]) {
		t.Fatalf("local payload content mismatch")
	}
	if c.TotalSize != len(payload) {
		t.Fatalf("TotalSize = %d, want %d", c.TotalSize, len(payload))
	}
}

func TestTableInteriorCellRoundTrip(t *testing.T) {
	buf := EncodeTableInteriorCell(PageID(42), 999)
	c, n, err := DecodeTableInteriorCell(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if c.LeftChild != PageID(42) || c.Rowid != 999 {
		t.Fatalf("got (left=%d,rowid=%d), want (42,999)", c.LeftChild, c.Rowid)
	}
}

func TestIndexLeafCellRoundTrip(t *testing.T) {
	const U = 4096
	key := EncodeRecord([]ColumnValue{IntValue(5), TextValueS("bob")})
	buf := EncodeIndexLeafCell(U, key, InvalidPageID)
	c, n, err := DecodeIndexLeafCell(buf, U)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if !bytes.Equal(c.LocalPayload, key) {
		t.Fatalf("payload mismatch")
	}
}

func TestIndexInteriorCellRoundTrip(t *testing.T) {
	const U = 4096
	key := EncodeRecord([]ColumnValue{IntValue(100)})
	buf := EncodeIndexInteriorCell(U, PageID(7), key, InvalidPageID)
	c, n, err := DecodeIndexInteriorCell(buf, U)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if c.LeftChild != PageID(7) {
		t.Fatalf("LeftChild = %d, want 7", c.LeftChild)
	}
	if !bytes.Equal(c.LocalPayload, key) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeTableInteriorCellTruncated(t *testing.T) {
	_, _, err := DecodeTableInteriorCell([]byte{0, 0, 0})
	if err == nil {
		t.Fatal("expected error for a 3-byte buffer, need at least 5")
	}
}
