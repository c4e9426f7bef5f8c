package guid

import "testing"

func id(width int, last byte) ID {
	b := make([]byte, width)
	b[width-1] = last
	return New(b)
}

func TestRandomWidth(t *testing.T) {
	g, err := Random(20)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	if !g.Set {
		t.Fatal("Random() returned unset ID")
	}
	if g.Width() != 20 {
		t.Fatalf("Width() = %d, want 20", g.Width())
	}
}

func TestZeroIsUnsetAndNeverEqual(t *testing.T) {
	z := Zero(20)
	if z.Set {
		t.Fatal("Zero() should be unset")
	}
	var unset ID
	if z.Equal(unset) {
		t.Fatal("two unset IDs must never compare equal")
	}
}

func TestEqual(t *testing.T) {
	a := id(4, 0x10)
	b := id(4, 0x10)
	c := id(4, 0x20)
	if !a.Equal(b) {
		t.Fatal("a should equal b")
	}
	if a.Equal(c) {
		t.Fatal("a should not equal c")
	}
}

func TestCommonPrefixLen(t *testing.T) {
	a := New([]byte{0b10100000})
	b := New([]byte{0b10110000})
	if got := CommonPrefixLen(a, b); got != 3 {
		t.Fatalf("CommonPrefixLen = %d, want 3", got)
	}
	if got := CommonPrefixLen(a, a); got != 8 {
		t.Fatalf("CommonPrefixLen(a, a) = %d, want 8", got)
	}
}

func TestDistCmp(t *testing.T) {
	target := id(4, 0xa0)
	near := id(4, 0xa1)
	far := id(4, 0xff)
	if DistCmp(target, near, far) != -1 {
		t.Fatal("near should be closer than far")
	}
	if DistCmp(target, far, near) != 1 {
		t.Fatal("far should be farther than near")
	}
	if DistCmp(target, near, near) != 0 {
		t.Fatal("equal distances should compare 0")
	}
}

func TestLessBreaksTies(t *testing.T) {
	a := New([]byte{0x01, 0x02})
	b := New([]byte{0x01, 0x03})
	if !Less(a, b) {
		t.Fatal("a should sort before b")
	}
	if Less(b, a) {
		t.Fatal("b should not sort before a")
	}
}
