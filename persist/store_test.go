package persist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
)

func open(t *testing.T) *Store {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func train(id uuid.UUID, derailed bool, n int) []Segment {
	segs := make([]Segment, n)
	for i := range segs {
		segs[i] = Segment{
			Train:   id,
			Index:   i,
			Segment: uuid.New(),
			Tags: map[string]Value{
				TagDirection: Bool(true),
				TagCarriages: Int(n),
				TagDerailed:  Bool(derailed),
				TagMission:   Int(7),
			},
		}
	}
	return segs
}

func TestSaveLoad(t *testing.T) {
	s := open(t)
	a, b := uuid.New(), uuid.New()
	segsA := train(a, false, 3)
	segsB := train(b, true, 1)
	if err := s.Save(append(segsA, segsB...)); err != nil {
		t.Fatalf("Save: %s", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	want := map[uuid.UUID][]Segment{a: segsA, b: segsB}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := open(t)
	a := uuid.New()
	if err := s.Save(train(a, false, 4)); err != nil {
		t.Fatal(err)
	}
	second := train(a, true, 2)
	if err := s.Save(second); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got[a]) != 2 || !got[a][0].Tags[TagDerailed].AsBool(false) {
		t.Fatalf("got %v", got[a])
	}
	if err := s.Delete(a); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Load()
	if len(got) != 0 {
		t.Fatalf("deleted train still loaded: %v", got)
	}
}

func TestRejectsBadValue(t *testing.T) {
	s := open(t)
	segs := train(uuid.New(), false, 1)
	segs[0].Tags["both"] = Value{Bool: new(bool), Int: new(int)}
	if err := s.Save(segs); err == nil {
		t.Fatal("value with both bool and int saved")
	}
}

func TestLoadSkipsGarbage(t *testing.T) {
	s := open(t)
	a := uuid.New()
	if err := s.Save(train(a, false, 1)); err != nil {
		t.Fatal(err)
	}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		tx.Set("train:not-a-uuid:segment:0:x:derailed", `{"bool":true}`, nil)
		tx.Set("train:"+a.String()+":segment:0:"+uuid.NewString()+":extra", `{"string":"x"}`, nil)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[a]) != 1 || len(got[a][0].Tags) != 4 {
		t.Fatalf("got %v", got)
	}
}

func TestValueDefaults(t *testing.T) {
	if Int(3).AsBool(true) != true || Bool(false).AsInt(5) != 5 {
		t.Fatal("defaults ignored")
	}
	if Int(3).String() != "3" || Bool(true).String() != "true" {
		t.Fatal("String")
	}
}
