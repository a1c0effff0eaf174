package consist

import (
	_ "embed"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

//go:embed test.json
var testJson []byte

var shunterI = uuid.MustParse("2fe1cbb0-b584-45f5-96ec-a9bfd55b1e91")

func TestDataJSON(t *testing.T) {
	var data Data
	err := json.Unmarshal(testJson, &data)
	if err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	testJson2, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}
	var data2 Data
	err = json.Unmarshal(testJson2, &data2)
	if err != nil {
		t.Fatalf("unmarshal again: %s", err)
	}
	if !cmp.Equal(data, data2) {
		t.Fatalf("diff: %s", cmp.Diff(data, data2))
	}
}

func TestBadKey(t *testing.T) {
	var data Data
	err := json.Unmarshal([]byte(`{"forms": {"not-a-uuid": {"cars": [{"length": 1, "mass": 1}]}}}`), &data)
	if err == nil || !strings.Contains(err.Error(), "not-a-uuid") {
		t.Fatalf("err = %v", err)
	}
	err = json.Unmarshal([]byte(`{"forms": {"`+shunterI.String()+`": {"cars": []}}}`), &data)
	if err == nil {
		t.Fatal("empty formation accepted")
	}
}

func TestGeometry(t *testing.T) {
	var data Data
	if err := json.Unmarshal(testJson, &data); err != nil {
		t.Fatal(err)
	}
	f := data.Forms[shunterI]
	if f.Length() != 34 {
		t.Fatalf("length %f", f.Length())
	}
	if f.Mass() != 6000 {
		t.Fatalf("mass %f", f.Mass())
	}
	if got, want := f.Behind(), []float64{0, 12, 23}; !cmp.Equal(got, want) {
		t.Fatalf("behind: %s", cmp.Diff(want, got))
	}
	w := f.Wheel()
	want := DefaultWheel()
	want.SlipSpeed = 9
	want.Rate = 6
	if !cmp.Equal(w, want) {
		t.Fatalf("wheel: %s", cmp.Diff(want, w))
	}
}
