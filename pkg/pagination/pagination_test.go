package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_NotRequested(t *testing.T) {
	if _, ok := FromContext(newContext("/")); ok {
		t.Error("expected no pagination without query params")
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p, ok := FromContext(newContext("/?limit=30&offset=10"))
	if !ok {
		t.Fatal("expected pagination")
	}
	if p.Limit != 30 || p.Offset != 10 {
		t.Errorf("expected 30/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Defaults(t *testing.T) {
	p, ok := FromContext(newContext("/?offset=5"))
	if !ok || p.Limit != DefaultLimit || p.Offset != 5 {
		t.Errorf("expected default limit, got %+v %v", p, ok)
	}

	p, _ = FromContext(newContext("/?limit=100000&offset=-4"))
	if p.Limit != MaxLimit || p.Offset != 0 {
		t.Errorf("expected clamped values, got %+v", p)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		p    Params
		want []int
	}{
		{Params{Limit: 2, Offset: 0}, []int{1, 2}},
		{Params{Limit: 2, Offset: 4}, []int{5}},
		{Params{Limit: 2, Offset: 9}, []int{}},
	}
	for _, tt := range tests {
		got := Page(items, tt.p)
		if len(got) != len(tt.want) {
			t.Errorf("Page(%+v) = %v, want %v", tt.p, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Page(%+v) = %v, want %v", tt.p, got, tt.want)
			}
		}
	}
}

func TestMeta(t *testing.T) {
	m := Params{Limit: 2, Offset: 2}.Meta(5)
	if m["total"] != 5 || m["hasMore"] != true {
		t.Errorf("unexpected meta: %v", m)
	}
	m = Params{Limit: 2, Offset: 4}.Meta(5)
	if m["hasMore"] != false {
		t.Errorf("expected last page, got %v", m)
	}
}
