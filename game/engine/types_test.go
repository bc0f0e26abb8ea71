package engine

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestVec3(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{4, 6, 3}

	if got := b.Sub(a); got != (Vec3{3, 4, 0}) {
		t.Errorf("Sub: got %+v", got)
	}
	if got := b.Sub(a).Norm(); got != 5 {
		t.Errorf("Norm: expected 5, got %v", got)
	}
	if got := a.Add(b); got != (Vec3{5, 8, 6}) {
		t.Errorf("Add: got %+v", got)
	}
	if got := a.Scale(2); got != (Vec3{2, 4, 6}) {
		t.Errorf("Scale: got %+v", got)
	}
}

func TestPlayerState_Position(t *testing.T) {
	p := NewPlayerState("id", "alice")
	if _, ok := p.Position(); ok {
		t.Error("Empty state should have no position")
	}

	p.X, p.Y = Float(1), Float(2)
	if _, ok := p.Position(); ok {
		t.Error("Partial position should not count as a position")
	}
	if got := p.PositionOr(Vec3{9, 9, 9}); got != (Vec3{1, 2, 9}) {
		t.Errorf("PositionOr: got %+v", got)
	}

	p.SetPosition(Vec3{4, 5, 6})
	pos, ok := p.Position()
	if !ok || pos != (Vec3{4, 5, 6}) {
		t.Errorf("Expected (4,5,6), got %+v ok=%v", pos, ok)
	}
}

func TestPlayerState_Clone(t *testing.T) {
	action := "firing"
	p := PlayerState{UUID: "id", X: Float(1), TS: Millis(10), Action: &action}
	c := p.Clone()

	*c.X = 99
	*c.TS = 99
	*c.Action = "idle"

	if *p.X != 1 || *p.TS != 10 || *p.Action != "firing" {
		t.Error("Clone should not share pointers with the original")
	}
}

func TestPlayerState_JSON(t *testing.T) {
	p := PlayerState{UUID: "u1", Username: "partial", X: Float(10), TS: Millis(1704556800000)}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	content := string(data)
	for _, field := range []string{`"uuid":"u1"`, `"x":10`, `"y":null`, `"ts":1704556800000`} {
		if !strings.Contains(content, field) {
			t.Errorf("Expected %s in %s", field, content)
		}
	}
	if strings.Contains(content, "action") {
		t.Error("Absent action should be omitted")
	}

	var back PlayerState
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if back.Y != nil || back.X == nil || *back.X != 10 {
		t.Errorf("Round trip lost optionality: %+v", back)
	}
}
