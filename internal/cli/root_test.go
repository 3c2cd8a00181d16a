package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersion(t *testing.T) {
	assert.Equal(t, version, GetVersion())
}

func TestRootHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"start", "stop", "status", "risk"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRiskCommandRejectsBadInput(t *testing.T) {
	riskInput = "not json"
	defer func() { riskInput = "{}" }()

	err := runRisk(riskCmd, []string{"delete_record"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --input JSON")
}
