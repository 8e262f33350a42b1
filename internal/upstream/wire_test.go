package upstream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{`null`, time.Time{}, false},
		{`""`, time.Time{}, false},
		{`"not a date"`, time.Time{}, false},
		{`"2025-02-10T09:00:00Z"`, time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC), true},
		{`"Mon, 10 Feb 2025 09:00:00 GMT"`, time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC), true},
		{`"Mon, 10 Feb 2025 10:00:00 +0100"`, time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		var ft flexTime
		if err := json.Unmarshal([]byte(tt.in), &ft); err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		got := ft.ptr()
		if (got != nil) != tt.ok {
			t.Fatalf("%s: parsed=%v, want %v", tt.in, got != nil, tt.ok)
		}
		if got != nil && !got.Equal(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFlexInt(t *testing.T) {
	tests := map[string]int{`3`: 3, `"7"`: 7, `null`: 0, `true`: 1, `false`: 0, `2.0`: 2}
	for in, want := range tests {
		var n flexInt
		if err := json.Unmarshal([]byte(in), &n); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if int(n) != want {
			t.Errorf("%s: got %d, want %d", in, n, want)
		}
	}

	var n flexInt
	if err := json.Unmarshal([]byte(`"many"`), &n); err == nil {
		t.Error("expected error for non-numeric count")
	}
}

func TestFlexString(t *testing.T) {
	var a wireAccount
	if err := json.Unmarshal([]byte(`{"id":42,"email":"a@example.com"}`), &a); err != nil {
		t.Fatal(err)
	}
	if a.toModel().ID != "42" {
		t.Errorf("id = %q", a.ID)
	}
}
