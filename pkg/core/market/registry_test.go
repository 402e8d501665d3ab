package market

import "testing"

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	m := &Market{ID: "us-election", Title: "US election", Outcomes: []string{"Yes", "No"}}
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(m); err == nil {
		t.Error("duplicate id accepted")
	}
	if err := r.Register(&Market{ID: "thin", Outcomes: []string{"Only"}}); err == nil {
		t.Error("single-outcome market accepted")
	}
	if err := r.Register(nil); err == nil {
		t.Error("nil market accepted")
	}

	got, ok := r.Get("us-election")
	if !ok || got.ID != "us-election" {
		t.Errorf("get = %+v ok=%v", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("missing market found")
	}
	if len(r.List()) != 1 {
		t.Errorf("list = %d entries, want 1", len(r.List()))
	}
}

func TestStatusTransitions(t *testing.T) {
	r := NewRegistry()
	m := &Market{ID: "m", Outcomes: []string{"Yes", "No"}, Status: Active}
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !m.Accepting() {
		t.Error("active market not accepting")
	}

	if err := r.SetStatus("m", Paused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if m.Accepting() {
		t.Error("paused market accepting")
	}
	if st, ok := r.Status("m"); !ok || st != Paused {
		t.Errorf("status = %s ok=%v, want paused", st, ok)
	}
	if _, ok := r.Status("missing"); ok {
		t.Error("status reported for missing market")
	}

	if err := r.SetStatus("m", Active); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if err := r.SetStatus("m", Resolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Resolved is terminal.
	if err := r.SetStatus("m", Active); err == nil {
		t.Error("resolved market reactivated")
	}

	if err := r.SetStatus("missing", Paused); err == nil {
		t.Error("status set on missing market")
	}
}

func TestHasOutcome(t *testing.T) {
	m := &Market{ID: "m", Outcomes: []string{"Yes", "No", "Partial"}}
	if !m.HasOutcome(0) || !m.HasOutcome(2) {
		t.Error("valid outcome rejected")
	}
	if m.HasOutcome(3) {
		t.Error("out-of-range outcome accepted")
	}
}
