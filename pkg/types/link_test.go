package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerLinkEnviron(t *testing.T) {
	source := &Container{ID: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"}
	link := &ContainerLink{
		Alias:           "database",
		SourceContainer: source,
		TargetIP:        "10.0.0.5",
		Ports:           []PortMapping{{Port: 5432, Protocol: "tcp"}},
	}

	env, err := link.Environ()
	require.NoError(t, err)

	want := map[string]string{
		"DATABASE_NAME":                source.ID,
		"DATABASE_PORT":                "tcp://10.0.0.5:5432",
		"DATABASE_PORT_5432_TCP":       "tcp://10.0.0.5:5432",
		"DATABASE_PORT_5432_TCP_PROTO": "TCP",
		"DATABASE_PORT_5432_TCP_PORT":  "5432",
		"DATABASE_PORT_5432_TCP_ADDR":  "10.0.0.5",
	}
	for k, v := range want {
		assert.Equal(t, v, env[k], "env[%s]", k)
	}
}

func TestContainerLinkEnvironPicksLowestPort(t *testing.T) {
	source := &Container{ID: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"}
	link := &ContainerLink{
		Alias:           "web",
		SourceContainer: source,
		TargetIP:        "10.0.0.9",
		Ports: []PortMapping{
			{Port: 443, Protocol: "tcp"},
			{Port: 80, Protocol: "tcp"},
		},
	}
	env, err := link.Environ()
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.9:80", env["WEB_PORT"], "expected the lowest-numbered port")
}

func TestContainerLinkEnvironRequiresPortsAndIP(t *testing.T) {
	source := &Container{ID: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"}

	_, err := (&ContainerLink{Alias: "x", SourceContainer: source, TargetIP: "10.0.0.1"}).Environ()
	assert.Error(t, err, "expected an error when the source container exposes no ports")

	_, err = (&ContainerLink{Alias: "x", SourceContainer: source, Ports: []PortMapping{{Port: 80, Protocol: "tcp"}}}).Environ()
	assert.Error(t, err, "expected an error when the source container has no IP address")
}
