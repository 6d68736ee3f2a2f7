package port

import (
	"errors"
	"testing"

	boxerrors "github.com/scharc/boxctl/internal/errors"
)

func TestTunnel_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		in       Tunnel
		wantErr  bool
		wantHost int
		wantBind string
	}{
		{"defaults", Tunnel{Project: "web", Direction: Expose, ContainerPort: 3000}, false, 3000, DefaultBind},
		{"explicit", Tunnel{Project: "web", Direction: Forward, ContainerPort: 5432, HostPort: 15432, Bind: "0.0.0.0"}, false, 15432, "0.0.0.0"},
		{"privileged host port", Tunnel{Project: "web", Direction: Expose, ContainerPort: 80}, true, 0, ""},
		{"explicit privileged", Tunnel{Project: "web", Direction: Expose, ContainerPort: 8080, HostPort: 443}, true, 0, ""},
		{"container port zero", Tunnel{Project: "web", Direction: Expose}, true, 0, ""},
		{"port too large", Tunnel{Project: "web", Direction: Expose, ContainerPort: 70000}, true, 0, ""},
		{"bad direction", Tunnel{Project: "web", Direction: "sideways", ContainerPort: 3000}, true, 0, ""},
		{"bad project", Tunnel{Project: "../x", Direction: Expose, ContainerPort: 3000}, true, 0, ""},
		{"bad bind", Tunnel{Project: "web", Direction: Expose, ContainerPort: 3000, Bind: "not an ip"}, true, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			err := got.Normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.HostPort != tt.wantHost || got.Bind != tt.wantBind {
				t.Errorf("got host %d bind %q, want %d %q", got.HostPort, got.Bind, tt.wantHost, tt.wantBind)
			}
		})
	}
}

func TestFindConflict(t *testing.T) {
	known := []Tunnel{
		{Project: "alpha", Direction: Forward, ContainerPort: 5432, HostPort: 5432},
		{Project: "alpha", Direction: Expose, ContainerPort: 3000, HostPort: 3000},
	}

	if other, found := FindConflict(Tunnel{Project: "beta", Direction: Forward, HostPort: 5432}, known); !found || other.Project != "alpha" {
		t.Errorf("cross-project conflict not found: %+v %v", other, found)
	}
	if _, found := FindConflict(Tunnel{Project: "alpha", Direction: Expose, HostPort: 5432}, known); !found {
		t.Error("same project, other direction should conflict")
	}
	if _, found := FindConflict(known[0], known); found {
		t.Error("a tunnel conflicts with itself")
	}
	if _, found := FindConflict(Tunnel{Project: "beta", Direction: Expose, HostPort: 8080}, known); found {
		t.Error("unexpected conflict on free port")
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection("forward"); err != nil || d != Forward {
		t.Errorf("ParseDirection(forward) = %q, %v", d, err)
	}
	_, err := ParseDirection("up")
	var boxErr *boxerrors.BoxError
	if !errors.As(err, &boxErr) || boxErr.Code != boxerrors.ExitUsage {
		t.Errorf("ParseDirection(up) error = %v, want usage error", err)
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Project: "web", Direction: Expose, HostPort: 3000}
	if got := k.String(); got != "web/expose/3000" {
		t.Errorf("Key.String() = %q", got)
	}
}
