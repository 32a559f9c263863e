package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxFor(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(ctxFor("/"))
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("unexpected defaults: %+v", p)
	}
}

func TestFromContext_LimitOffset(t *testing.T) {
	p := FromContext(ctxFor("/?limit=10&offset=30"))
	if p.Limit != 10 || p.Offset != 30 {
		t.Errorf("unexpected params: %+v", p)
	}
}

func TestFromContext_PageParams(t *testing.T) {
	p := FromContext(ctxFor("/?page=3&per_page=25"))
	if p.Limit != 25 || p.Offset != 50 {
		t.Errorf("expected limit 25 offset 50, got %+v", p)
	}
}

func TestFromContext_OffsetWinsOverPage(t *testing.T) {
	p := FromContext(ctxFor("/?page=3&offset=5"))
	if p.Offset != 5 {
		t.Errorf("expected offset 5, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(ctxFor("/?limit=1000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(ctxFor("/?offset=-4"))
	if p.Offset != 0 {
		t.Errorf("expected 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a"}, 45, Params{Limit: 20, Offset: 20})
	if !r.HasMore || r.Total != 45 || r.Limit != 20 || r.Offset != 20 {
		t.Errorf("unexpected response: %+v", r)
	}
	r = NewResponse(nil, 45, Params{Limit: 20, Offset: 40})
	if r.HasMore {
		t.Error("last page must not report more")
	}
}

func TestResponse_WithLinks(t *testing.T) {
	u, _ := url.Parse("/api/v1/consultations?status=completed&limit=10&offset=10")
	r := NewResponse(nil, 35, Params{Limit: 10, Offset: 10}).WithLinks(u)
	if r.Links == nil {
		t.Fatal("expected links")
	}
	if r.Links.Next != "/api/v1/consultations?limit=10&offset=20&status=completed" {
		t.Errorf("unexpected next link: %s", r.Links.Next)
	}
	if r.Links.Previous != "/api/v1/consultations?limit=10&offset=0&status=completed" {
		t.Errorf("unexpected previous link: %s", r.Links.Previous)
	}
}

func TestResponse_WithLinks_SinglePage(t *testing.T) {
	u, _ := url.Parse("/api/v1/procedures")
	r := NewResponse(nil, 3, Params{Limit: 20}).WithLinks(u)
	if r.Links != nil {
		t.Errorf("expected no links, got %+v", r.Links)
	}
}

func TestParams_PreviousOffset(t *testing.T) {
	if (Params{Limit: 20, Offset: 10}).PreviousOffset() != 0 {
		t.Error("previous offset must not go negative")
	}
	if (Params{Limit: 20, Offset: 60}).PreviousOffset() != 40 {
		t.Error("expected 40")
	}
}
