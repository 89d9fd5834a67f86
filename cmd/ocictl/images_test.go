package main

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestShortID(t *testing.T) {
	assert.Equal(t, shortID("abcdefabcdefabcdefabcdef"), "abcdefabcdef")
	assert.Equal(t, shortID("short"), "short")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"images", "rmi", "tag", "ps", "create", "rm", "start", "layers", "save", "load"} {
		assert.Assert(t, names[want], "missing subcommand %q", want)
	}
}
