package debounce

import (
	"testing"

	"github.com/LCH-chanho/ECHO/pkg/classify"
)

func pred(c classify.Class, p float32) classify.Prediction {
	return classify.Prediction{Class: c, Probability: p}
}

func deployed() *Debouncer {
	return New(
		WithThreshold(classify.Horn, 0.94),
		WithThreshold(classify.Siren, 0.94),
		WithThreshold(classify.None, 0.85),
		WithDefaultThreshold(0.80),
	)
}

func TestObserve_Sequences(t *testing.T) {
	tests := []struct {
		name  string
		preds []classify.Prediction
		fires []int // indices that emit
	}{
		{
			name:  "two in a row",
			preds: []classify.Prediction{pred(classify.Siren, 0.97), pred(classify.Siren, 0.96)},
			fires: []int{1},
		},
		{
			name: "unbroken run fires every second observation",
			preds: []classify.Prediction{
				pred(classify.Horn, 0.99), pred(classify.Horn, 0.99), pred(classify.Horn, 0.99),
				pred(classify.Horn, 0.99), pred(classify.Horn, 0.99), pred(classify.Horn, 0.99),
			},
			fires: []int{1, 3, 5},
		},
		{
			name:  "sub-threshold breaks the run",
			preds: []classify.Prediction{pred(classify.Siren, 0.97), pred(classify.Siren, 0.50), pred(classify.Siren, 0.97)},
			fires: nil,
		},
		{
			name:  "class switch re-arms",
			preds: []classify.Prediction{pred(classify.Siren, 0.97), pred(classify.Horn, 0.97), pred(classify.Horn, 0.97)},
			fires: []int{2},
		},
		{
			name:  "alternating never fires",
			preds: []classify.Prediction{pred(classify.Siren, 0.97), pred(classify.Horn, 0.97), pred(classify.Siren, 0.97), pred(classify.Horn, 0.97)},
			fires: nil,
		},
		{
			name:  "none class confirms at its own threshold",
			preds: []classify.Prediction{pred(classify.None, 0.86), pred(classify.None, 0.90)},
			fires: []int{1},
		},
		{
			name:  "run starts after a weak first observation",
			preds: []classify.Prediction{pred(classify.Horn, 0.5), pred(classify.Horn, 0.95), pred(classify.Horn, 0.95)},
			fires: []int{2},
		},
		{
			name: "none class repeats like any other",
			preds: []classify.Prediction{
				pred(classify.None, 0.86), pred(classify.None, 0.86),
				pred(classify.None, 0.86), pred(classify.None, 0.86),
			},
			fires: []int{1, 3},
		},
		{
			name:  "threshold is inclusive",
			preds: []classify.Prediction{pred(classify.Siren, 0.94), pred(classify.Siren, 0.94)},
			fires: []int{1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := deployed()
			var fired []int
			for i, p := range tt.preds {
				ev, ok := d.Observe(p)
				if ok {
					if ev.Class != p.Class || ev.Probability != p.Probability {
						t.Errorf("event %+v does not match prediction %v", ev, p)
					}
					fired = append(fired, i)
				}
			}
			if len(fired) != len(tt.fires) {
				t.Fatalf("fired at %v, want %v", fired, tt.fires)
			}
			for i := range fired {
				if fired[i] != tt.fires[i] {
					t.Fatalf("fired at %v, want %v", fired, tt.fires)
				}
			}
		})
	}
}

func TestObserve_State(t *testing.T) {
	d := deployed()

	d.Observe(pred(classify.Siren, 0.97))
	if s := d.State(); s.Last != classify.Siren || s.Repeats != 1 {
		t.Fatalf("state = %+v, want {Siren 1}", s)
	}

	d.Observe(pred(classify.Siren, 0.97))
	if s := d.State(); s.Last != classify.Siren || s.Repeats != 0 {
		t.Fatalf("state after emit = %+v, want {Siren 0}", s)
	}

	d.Observe(pred(classify.Siren, 0.10))
	if s := d.State(); s != (State{}) {
		t.Fatalf("state after reset = %+v, want zero", s)
	}
}

func TestThreshold_Default(t *testing.T) {
	d := New(WithThreshold(classify.Horn, 0.94))
	if got := d.Threshold(classify.Horn); got != 0.94 {
		t.Errorf("Threshold(Horn) = %v", got)
	}
	if got := d.Threshold(classify.Siren); got != DefaultThreshold {
		t.Errorf("Threshold(Siren) = %v, want default %v", got, DefaultThreshold)
	}

	// Siren has no entry: 0.85 passes the 0.80 default.
	d.Observe(pred(classify.Siren, 0.85))
	if _, ok := d.Observe(pred(classify.Siren, 0.85)); !ok {
		t.Fatal("default threshold should accept 0.85")
	}
}

func TestWithThresholds(t *testing.T) {
	d := New(WithThresholds(map[classify.Class]float32{classify.Siren: 0.5}), WithDefaultThreshold(0.99))
	if d.Threshold(classify.Siren) != 0.5 || d.Threshold(classify.Horn) != 0.99 {
		t.Fatalf("thresholds: siren=%v horn=%v", d.Threshold(classify.Siren), d.Threshold(classify.Horn))
	}
}

func TestReset(t *testing.T) {
	d := deployed()
	d.Observe(pred(classify.Horn, 0.99))
	d.Reset()
	if _, ok := d.Observe(pred(classify.Horn, 0.99)); ok {
		t.Fatal("Reset should discard the armed observation")
	}
}
