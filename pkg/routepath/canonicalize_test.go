package routepath

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input     string
		wantPath  string
		wantQuery string
	}{
		{"/", "/", ""},
		{"/user/dashboard", "/user/dashboard", ""},
		{"/user/dashboard/", "/user/dashboard", ""},
		{"/admin//keys", "/admin/keys", ""},
		{"///admin/keys", "", ""}, // protocol-relative, rejected below
		{"/admin/./keys", "/admin/keys", ""},
		{"/user/x/../dashboard", "/user/dashboard", ""},
		{"/%61dmin/keys", "/admin/keys", ""},
		{"/user/login?redirect=%2Fadmin", "/user/login", "redirect=%2Fadmin"},
		{"/user/claim#top", "/user/claim", ""},
		{"/user/claim?a=1#top", "/user/claim", "a=1"},
		{"/user/%2e%2e/admin", "/admin", ""},
	}

	for _, tt := range tests {
		if tt.wantPath == "" {
			continue
		}
		got, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if got.Path != tt.wantPath || got.Query != tt.wantQuery {
			t.Errorf("Parse(%q) = %+v, want {%s %s}", tt.input, got, tt.wantPath, tt.wantQuery)
		}
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"", ErrInvalidPath},
		{"user/dashboard", ErrInvalidPath},
		{"https://evil.example/", ErrAbsoluteURL},
		{"javascript:alert(1)", ErrAbsoluteURL},
		{"//evil.example/path", ErrAbsoluteURL},
		{"///admin/keys", ErrAbsoluteURL},
		{"/admin\\keys", ErrBackslashInPath},
		{"/admin\x00", ErrNullByteInPath},
		{"/admin%00", ErrNullByteInPath},
		{"/admin/%GG", ErrInvalidPercentEscape},
		{"/admin/%2", ErrInvalidPercentEscape},
		{"/admin%2Fkeys", ErrEncodedSeparator},
		{"/admin%5Ckeys", ErrEncodedSeparator},
		{"/../etc/passwd", ErrPathEscapesRoot},
		{"/user/../../x", ErrPathEscapesRoot},
	}

	for _, tt := range tests {
		_, err := Parse(tt.input)
		if !errors.Is(err, tt.want) {
			t.Errorf("Parse(%q) error = %v, want %v", tt.input, err, tt.want)
		}
	}
}

func TestTargetString(t *testing.T) {
	if got := (Target{Path: "/a"}).String(); got != "/a" {
		t.Errorf("String() = %q", got)
	}
	if got := (Target{Path: "/a", Query: "x=1"}).String(); got != "/a?x=1" {
		t.Errorf("String() = %q", got)
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"/admin/keys", "/admin/keys", true},
		{"/user/claim/?tab=2", "/user/claim?tab=2", true},
		{"", "", false},
		{"https://evil.example", "", false},
		{"//evil.example", "", false},
		{"/\\evil.example", "", false},
		{"evil", "", false},
	}

	for _, tt := range tests {
		got, ok := SafeRedirect(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("SafeRedirect(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestUnder(t *testing.T) {
	tests := []struct {
		path, prefix string
		want         bool
	}{
		{"/admin", "/admin", true},
		{"/admin/keys", "/admin", true},
		{"/administrator", "/admin", false},
		{"/user", "/admin", false},
		{"/anything", "/", true},
	}
	for _, tt := range tests {
		if got := Under(tt.path, tt.prefix); got != tt.want {
			t.Errorf("Under(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}

func TestSegments(t *testing.T) {
	if got := Segments("/"); got != nil {
		t.Errorf("Segments(/) = %v", got)
	}
	if got := Segments("/admin/keys"); !reflect.DeepEqual(got, []string{"admin", "keys"}) {
		t.Errorf("Segments = %v", got)
	}
}

func TestMustCleanPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustClean("/../x")
}
