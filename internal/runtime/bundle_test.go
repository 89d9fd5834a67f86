package runtime

import (
	"testing"

	"gotest.tools/v3/assert"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestBuildBundleSpecArgsFallback(t *testing.T) {
	cases := []struct {
		name       string
		command    []string
		entrypoint []string
		cmd        []string
		want       []string
	}{
		{name: "command wins", command: []string{"echo", "hi"}, cmd: []string{"/bin/true"}, want: []string{"echo", "hi"}},
		{name: "entrypoint and cmd", entrypoint: []string{"/entry"}, cmd: []string{"arg"}, want: []string{"/entry", "arg"}},
		{name: "cmd only", cmd: []string{"/bin/true"}, want: []string{"/bin/true"}},
		{name: "nothing at all falls back to /bin/sh", want: []string{"/bin/sh"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			imageConfig := ocispec.Image{}
			imageConfig.Config.Entrypoint = tc.entrypoint
			imageConfig.Config.Cmd = tc.cmd
			spec := buildBundleSpec(imageConfig, "host", "/mnt", tc.command, "")
			assert.DeepEqual(t, spec.Process.Args, tc.want)
		})
	}
}
