package mpegts

import "testing"

func pkt(cc uint8, pusi bool, payload ...byte) *packet {
	return &packet{pid: 0x100, cc: cc, pusi: pusi, hasPayload: true, payload: payload}
}

func TestAccumulatorStartFlushes(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100, psi: psiPIDs{}}

	if done := a.add(pkt(0, true, 1)); done != nil {
		t.Error("first packet should not complete a unit")
	}
	if done := a.add(pkt(1, false, 2)); done != nil {
		t.Error("continuation should not complete a unit")
	}
	if done := a.add(pkt(2, true, 3)); len(done) != 2 {
		t.Errorf("next start should complete 2 packets, got %d", len(done))
	}
}

func TestAccumulatorContinuity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		packets []*packet
		want    int
	}{
		{
			name:    "gap drops the partial unit",
			packets: []*packet{pkt(0, true, 1), pkt(1, false, 2), pkt(5, false, 3), pkt(6, true, 4)},
			want:    0,
		},
		{
			name:    "duplicate is ignored",
			packets: []*packet{pkt(3, true, 1), pkt(3, false, 1), pkt(4, true, 2)},
			want:    1,
		},
		{
			name:    "counter wraps",
			packets: []*packet{pkt(15, true, 1), pkt(0, false, 2), pkt(1, true, 3)},
			want:    2,
		},
		{
			name: "signalled discontinuity keeps the unit",
			packets: []*packet{
				pkt(0, true, 1), pkt(1, false, 2),
				{pid: 0x100, cc: 9, hasPayload: true, discontinuity: true, payload: []byte{3}},
				pkt(10, true, 4),
			},
			want: 3,
		},
		{
			name: "transport error drops the unit",
			packets: []*packet{
				pkt(0, true, 1),
				{pid: 0x100, cc: 1, hasPayload: true, tei: true, payload: []byte{2}},
				pkt(2, true, 3),
			},
			want: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := &accumulator{pid: 0x100, psi: psiPIDs{}}
			var done []*packet
			for _, p := range tc.packets {
				done = a.add(p)
			}
			if len(done) != tc.want {
				t.Errorf("completed %d packets, want %d", len(done), tc.want)
			}
		})
	}
}

func TestAccumulatorIgnoresOrphanContinuation(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100, psi: psiPIDs{}}
	a.add(pkt(7, false, 9))
	if done := a.add(pkt(8, true, 1)); done != nil {
		t.Errorf("continuation without a start should not form a unit, got %d packets", len(done))
	}
}

func TestAccumulatorAdaptationOnly(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100, psi: psiPIDs{}}
	a.add(pkt(0, true, 1))
	if done := a.add(&packet{pid: 0x100, cc: 0}); done != nil {
		t.Error("adaptation-only packet should not complete a unit")
	}
	if got := a.flush(); len(got) != 1 {
		t.Errorf("flush returned %d packets, want 1", len(got))
	}
}

func TestAccumulatorPSICompletesEarly(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: pidPAT, psi: psiPIDs{}}
	done := a.add(&packet{pid: pidPAT, pusi: true, hasPayload: true, payload: []byte{
		0x00,
		0x00, 0x80, 0x05, 1, 2, 3, 4, 5,
		0xFF, 0xFF,
	}})
	if len(done) != 1 {
		t.Fatalf("complete section should flush at once, got %d packets", len(done))
	}
}

func TestSectionsComplete(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"single section", []byte{0x00, 0x00, 0x80, 0x05, 1, 2, 3, 4, 5}, true},
		{"truncated", []byte{0x00, 0x00, 0x80, 0x0A, 1, 2, 3}, false},
		{"no section syntax", []byte{0x00, 0x00, 0x00, 0x02, 1, 2, 0xFF, 0xFF}, true},
		{"two sections", []byte{0x00, 0x00, 0x80, 0x01, 1, 0x02, 0x80, 0x02, 1, 2}, true},
		{"second truncated", []byte{0x00, 0x00, 0x80, 0x01, 1, 0x02, 0x80, 0x04, 1}, false},
		{"pointer past end", []byte{0x05, 0x00}, false},
		{"empty", nil, false},
	}
	for _, tc := range tests {
		if got := sectionsComplete(tc.payload); got != tc.want {
			t.Errorf("%s: sectionsComplete = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPoolDrainOrder(t *testing.T) {
	t.Parallel()
	pl := newPool(psiPIDs{})
	pl.add(&packet{pid: 0x200, pusi: true, hasPayload: true, payload: []byte{2}})
	pl.add(&packet{pid: 0x100, pusi: true, hasPayload: true, payload: []byte{1}})

	all := pl.drain()
	if len(all) != 2 {
		t.Fatalf("drain returned %d units, want 2", len(all))
	}
	if all[0][0].pid != 0x100 || all[1][0].pid != 0x200 {
		t.Errorf("drain order = 0x%X, 0x%X", all[0][0].pid, all[1][0].pid)
	}
	if again := pl.drain(); len(again) != 0 {
		t.Errorf("second drain returned %d units", len(again))
	}
}

func TestPoolReset(t *testing.T) {
	t.Parallel()
	pl := newPool(psiPIDs{})
	pl.add(&packet{pid: 0x100, pusi: true, hasPayload: true, payload: []byte{1}})
	pl.reset()
	if all := pl.drain(); len(all) != 0 {
		t.Errorf("drain after reset returned %d units", len(all))
	}
}
