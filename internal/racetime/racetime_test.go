package racetime

import "testing"

func TestFromTenThousandthsRoundsHalfUp(t *testing.T) {
	cases := []struct {
		n         uint64
		precision int
		want      uint64
	}{
		{12345, 4, 12345},
		{12345, 3, 12350}, // exactly half of 10 -> rounds up
		{12344, 3, 12340},
		{12346, 3, 12350},
		{12350, 2, 12400}, // nearest 100, 12350 is exactly half -> rounds up to 12400
		{12349, 2, 12300},
		{5000, 0, 10000},  // exactly half of 10000 -> rounds up
		{4999, 0, 0},
	}
	for _, c := range cases {
		got := FromTenThousandths(c.n, c.precision).ToTenThousandths(c.precision)
		if got != c.want {
			t.Errorf("FromTenThousandths(%d,%d) = %d, want %d", c.n, c.precision, got, c.want)
		}
	}
}

func TestRenderPrecisionDigitCount(t *testing.T) {
	rt := FromFields(Fields{Minutes: 5, Seconds: 3, Tenths: 8})
	for p := 0; p <= 4; p++ {
		s := rt.Format(p)
		dot := -1
		for i, c := range s {
			if c == '.' {
				dot = i
			}
		}
		if p == 0 {
			if dot != -1 {
				t.Errorf("precision 0 should have no decimal point, got %q", s)
			}
			continue
		}
		if dot == -1 {
			t.Fatalf("precision %d missing decimal point: %q", p, s)
		}
		if got := len(s) - dot - 1; got != p {
			t.Errorf("precision %d: got %d fractional digits in %q", p, got, s)
		}
	}
}

func TestEqualCanonicalEqualPrecisionRenderEqual(t *testing.T) {
	a := FromFields(Fields{Minutes: 11, Seconds: 19, Thousandths: 650})
	b := FromTenThousandths(a.ToTenThousandths(4), 4)
	if a.Format(3) != b.Format(3) {
		t.Errorf("equal canonical values rendered differently: %q vs %q", a.Format(3), b.Format(3))
	}
}

func TestFromDurationMicrosecondTruncation(t *testing.T) {
	rt := FromFields(Fields{Seconds: 5, Thousandths: 3, TenThousands: 7})
	d := rt.Duration()
	back := FromDuration(d)
	if back.ToTenThousandths(4) != rt.ToTenThousandths(4) {
		t.Errorf("round trip through Duration changed value: %d -> %d", rt.ToTenThousandths(4), back.ToTenThousandths(4))
	}
}

func TestSerialLiteralFieldsFormat(t *testing.T) {
	// "   .   5:03.8      \r" -> RaceTime(minutes=5, seconds=3, tenths=8)
	rt := FromFields(Fields{Minutes: 5, Seconds: 3, Tenths: 8})
	if got := rt.Format(1); got != "5:03.8" {
		t.Errorf("got %q, want 5:03.8", got)
	}
}
