package routing

import (
	"strings"
	"testing"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

func TestValidateAcceptsMinimalTable(t *testing.T) {
	table := domain.RoutingTable{
		{Hostname: "localhost", Path: "", Targets: []domain.Target{{Type: domain.TargetForward, URL: "http://origin:8080"}}},
	}
	if errs := Validate(table); len(errs) != 0 {
		t.Fatalf("expected valid table, got %v", errs)
	}
}

func TestValidateRejectsEmptyHostname(t *testing.T) {
	table := domain.RoutingTable{
		{Hostname: "", Targets: []domain.Target{{Type: domain.TargetStatic, Directory: "./public"}}},
	}
	errs := Validate(table)
	if len(errs) != 1 || errs[0].Field != "hostname" {
		t.Fatalf("expected hostname error, got %v", errs)
	}
}

func TestValidateRejectsInvalidHostname(t *testing.T) {
	table := domain.RoutingTable{
		{Hostname: "Bad_Host!", Targets: []domain.Target{{Type: domain.TargetStatic, Directory: "./public"}}},
	}
	if errs := Validate(table); len(errs) == 0 {
		t.Fatalf("expected hostname rejection")
	}
}

func TestValidateRejectsEmptyTargets(t *testing.T) {
	table := domain.RoutingTable{{Hostname: "localhost"}}
	errs := Validate(table)
	if len(errs) != 1 || errs[0].Field != "targets" {
		t.Fatalf("expected targets error, got %v", errs)
	}
}

func TestValidateTargetVariants(t *testing.T) {
	cases := []struct {
		name   string
		target domain.Target
		valid  bool
	}{
		{"forward ok", domain.Target{Type: "forward", URL: "https://example.com/api"}, true},
		{"forward relative url", domain.Target{Type: "forward", URL: "/just/a/path"}, false},
		{"forward bad scheme", domain.Target{Type: "forward", URL: "ftp://example.com"}, false},
		{"forward empty url", domain.Target{Type: "forward"}, false},
		{"static ok", domain.Target{Type: "static", Directory: "./public"}, true},
		{"static empty directory", domain.Target{Type: "static"}, false},
		{"static with url", domain.Target{Type: "static", Directory: "./public", URL: "https://example.com"}, false},
		{"forward with directory", domain.Target{Type: "forward", URL: "https://example.com", Directory: "./public"}, false},
		{"forward with index", domain.Target{Type: "forward", URL: "https://example.com", Index: "home.html"}, false},
		{"redirect ok", domain.Target{Type: "redirect", URL: "https://example.com"}, true},
		{"redirect with directory", domain.Target{Type: "redirect", URL: "https://example.com", Directory: "./public"}, false},
		{"unknown tag", domain.Target{Type: "teleport", URL: "https://example.com"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			table := domain.RoutingTable{{Hostname: "localhost", Targets: []domain.Target{tc.target}}}
			errs := Validate(table)
			if tc.valid && len(errs) != 0 {
				t.Fatalf("expected valid, got %v", errs)
			}
			if !tc.valid && len(errs) == 0 {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestValidateAuthentication(t *testing.T) {
	route := domain.Route{
		Hostname:       "localhost",
		Authentication: &domain.Authentication{Type: "basic"},
		Targets:        []domain.Target{{Type: "static", Directory: "./public"}},
	}
	errs := Validate(domain.RoutingTable{route})
	if len(errs) != 2 {
		t.Fatalf("expected missing username and password, got %v", errs)
	}

	route.Authentication = &domain.Authentication{Type: "kerberos"}
	if errs := Validate(domain.RoutingTable{route}); len(errs) != 1 {
		t.Fatalf("expected unknown auth type rejection, got %v", errs)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	body := `[{"hostname":"localhost","path":"","targets":[{"type":"static","directory":"./public"}],"surprise":true}]`
	if _, err := Decode(strings.NewReader(body)); err == nil {
		t.Fatalf("expected unknown key rejection")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	body := `[{"hostname":"localhost","path":"/api","timeout_ms":250,"targets":[{"type":"forward","url":"http://origin:9000"}]}]`
	table, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(table) != 1 || table[0].TimeoutMs != 250 || table[0].Targets[0].URL != "http://origin:9000" {
		t.Fatalf("unexpected table: %+v", table)
	}
}
