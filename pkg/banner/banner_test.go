package banner

import "testing"

func TestExampleBase(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{"0.0.0.0:8080", "http://localhost:8080"},
		{":9090", "http://localhost:9090"},
		{"127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"[::]:8080", "http://localhost:8080"},
		{"not-an-addr", "http://localhost:8080"},
	}
	for _, c := range cases {
		if got := exampleBase(c.addr); got != c.want {
			t.Errorf("exampleBase(%q) = %q, want %q", c.addr, got, c.want)
		}
	}
}
