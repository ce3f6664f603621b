package panel

import "testing"

func TestAddMapping_IDsIncrease(t *testing.T) {
	c := New(&fakeHost{}, nil)
	a := c.AddMapping("", "")
	b := c.AddMapping("/local", "/plex")
	if b <= a {
		t.Fatalf("ids not increasing: %d then %d", a, b)
	}
	rows := c.Snapshot().Rows
	if len(rows) != 2 || rows[1] != (Row{ID: b, Local: "/local", Plex: "/plex"}) {
		t.Errorf("rows = %+v", rows)
	}
	if RowKey(b) != "mapping_1" {
		t.Errorf("RowKey = %q", RowKey(b))
	}
}

func TestRemoveMapping_KeepsOthersAndOrder(t *testing.T) {
	const n = 6
	for k := 0; k < n; k++ {
		c := New(&fakeHost{}, nil)
		ids := make([]int, n)
		for i := range ids {
			ids[i] = c.AddMapping("", "")
		}

		if !c.RemoveMapping(ids[k]) {
			t.Fatalf("RemoveMapping(%d) reported missing row", ids[k])
		}
		rows := c.Snapshot().Rows
		if len(rows) != n-1 {
			t.Fatalf("k=%d: %d rows left, want %d", k, len(rows), n-1)
		}
		want := append(append([]int(nil), ids[:k]...), ids[k+1:]...)
		for i, r := range rows {
			if r.ID == ids[k] {
				t.Errorf("k=%d: removed id %d still present", k, r.ID)
			}
			if r.ID != want[i] {
				t.Errorf("k=%d: position %d has id %d, want %d", k, i, r.ID, want[i])
			}
		}
	}
}

func TestRemoveMapping_UnknownID(t *testing.T) {
	c := New(&fakeHost{}, nil)
	c.AddMapping("/a", "/b")
	if c.RemoveMapping(42) {
		t.Error("RemoveMapping reported success for unknown id")
	}
	if len(c.Snapshot().Rows) != 1 {
		t.Error("row count changed")
	}
}

func TestRemoveMapping_IDsNeverReused(t *testing.T) {
	c := New(&fakeHost{}, nil)
	first := c.AddMapping("", "")
	c.RemoveMapping(first)
	if next := c.AddMapping("", ""); next == first {
		t.Errorf("id %d reused", next)
	}
}

func TestSetMapping(t *testing.T) {
	c := New(&fakeHost{}, nil)
	id := c.AddMapping("", "")
	if !c.SetMapping(id, "/l", "/p") {
		t.Fatal("SetMapping failed")
	}
	if c.SetMapping(id+10, "x", "y") {
		t.Error("SetMapping succeeded for unknown id")
	}
	if r := c.Snapshot().Rows[0]; r.Local != "/l" || r.Plex != "/p" {
		t.Errorf("row = %+v", r)
	}
}
