package dockerfile

import (
	"testing"

	"github.com/cuemby/shoebox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvExpansion(t *testing.T) {
	p := &Parser{}
	spec, err := p.Evaluate("ENV foo /bar\nENV baz ${foo}bar$foo\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "/bar", spec.Context.Environ["foo"])
	assert.Equal(t, "/barbar/bar", spec.Context.Environ["baz"])
}

func TestEnvKeyValueForm(t *testing.T) {
	p := &Parser{}
	spec, err := p.Evaluate(`ENV ak=av bk=bv`, nil)
	require.NoError(t, err)
	assert.Equal(t, "av", spec.Context.Environ["ak"])
	assert.Equal(t, "bv", spec.Context.Environ["bk"])
}

func TestExposeWithDefaultProtocol(t *testing.T) {
	p := &Parser{}
	spec, err := p.Evaluate("EXPOSE 5432\nEXPOSE 5431/tcp\n", nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Expose, types.PortMapping{Port: 5432, Protocol: "tcp"})
	assert.Contains(t, spec.Expose, types.PortMapping{Port: 5431, Protocol: "tcp"})
}

func TestRunCommandAccumulates(t *testing.T) {
	p := &Parser{}
	spec, err := p.Evaluate("RUN apt-get update && apt-get upgrade\n", nil)
	require.NoError(t, err)
	require.Len(t, spec.RunCommands, 1)

	step, ok := spec.RunCommands[0].(types.RunStep)
	require.Truef(t, ok, "RunCommands[0] is %T, want types.RunStep", spec.RunCommands[0])
	assert.Equal(t, []string{"/bin/sh", "-c", "apt-get update && apt-get upgrade"}, step.Command)
}

func TestUnknownDirectiveRaisesOnEvaluate(t *testing.T) {
	p := &Parser{}
	directives, err := p.ParseFile("BOGUS something\n")
	require.NoError(t, err)
	require.Len(t, directives, 1)

	_, err = directives[0].Evaluate(types.NewImageSpec())
	require.Error(t, err)
	unparsed, ok := err.(*UnparsedDirective)
	require.Truef(t, ok, "error type = %T, want *UnparsedDirective", err)
	assert.Equal(t, "BOGUS", unparsed.Name)
}

func TestOnbuildRejectsFrom(t *testing.T) {
	_, err := Parse("ONBUILD FROM foo:bar")
	assert.Error(t, err, "expected ONBUILD FROM to be rejected")
}

func TestInsertIsNoOp(t *testing.T) {
	p := &Parser{}
	_, err := p.Evaluate("INSERT up-your-ass\n", nil)
	assert.NoError(t, err)
}

func TestVolumeDirective(t *testing.T) {
	p := &Parser{}
	spec, err := p.Evaluate("VOLUME /data /var/log\n", nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Volumes, "/data")
	assert.Contains(t, spec.Volumes, "/var/log")
}

func TestVolumeJSONArrayForm(t *testing.T) {
	p := &Parser{}
	spec, err := p.Evaluate(`VOLUME ["/data","/logs"]`, nil)
	require.NoError(t, err)
	require.Len(t, spec.Volumes, 2)
	assert.Contains(t, spec.Volumes, "/data")
	assert.Contains(t, spec.Volumes, "/logs")
}
