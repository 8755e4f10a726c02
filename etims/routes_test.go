package etims

import (
	"testing"
	"time"
)

func TestResolveRoute(t *testing.T) {
	route, err := resolveRoute("https://api.example.com/", RouteSalesSave)
	if err != nil {
		t.Fatalf("resolveRoute: %v", err)
	}
	if route.URL != "https://api.example.com/sales/sales_invoices/" {
		t.Fatalf("unexpected URL %s", route.URL)
	}
	if route.Timeout != defaultRouteTimeout {
		t.Fatalf("expected default timeout, got %s", route.Timeout)
	}
}

func TestResolveRoute_NoticeTimeout(t *testing.T) {
	route, err := resolveRoute("https://api.example.com", RouteNoticeSearch)
	if err != nil {
		t.Fatalf("resolveRoute: %v", err)
	}
	if route.Timeout != 30*time.Minute {
		t.Fatalf("notice search should run long, got %s", route.Timeout)
	}
}

func TestResolveRoute_UnknownKey(t *testing.T) {
	_, err := resolveRoute("https://api.example.com", RouteKey("nope"))
	if err == nil {
		t.Fatal("expected an error for an unknown route key")
	}
	if KindOf(err) != ErrorKindConfiguration {
		t.Fatalf("unknown keys are a configuration problem, got %s", KindOf(err))
	}
}

func TestResolveRoute_EmptyServer(t *testing.T) {
	_, err := resolveRoute("  ", RouteSalesSave)
	if err == nil {
		t.Fatal("expected an error when the server URL is unset")
	}
	if KindOf(err) != ErrorKindConfiguration {
		t.Fatalf("missing server URL is a configuration problem, got %s", KindOf(err))
	}
}
