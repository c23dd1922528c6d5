package chain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command runs one invocation of the chain binary and returns its cleaned
// output.
type Command interface {
	Run(ctx context.Context, stdin []byte, args ...string) (string, error)
}

// Flag is a --name value pair. Underscores in the name are rendered as
// dashes; a nil value drops the flag.
type Flag struct {
	Name  string
	Value interface{}
}

// F is shorthand for building a Flag.
func F(name string, value interface{}) Flag {
	return Flag{Name: name, Value: value}
}

// Args renders positional arguments followed by flags. Empty positional
// arguments are dropped.
func Args(positional []string, flags ...Flag) []string {
	args := make([]string, 0, len(positional)+2*len(flags))
	for _, p := range positional {
		if p != "" {
			args = append(args, p)
		}
	}
	for _, f := range flags {
		if f.Value == nil {
			continue
		}
		name := strings.ReplaceAll(strings.Trim(f.Name, "_"), "_", "-")
		args = append(args, "--"+name, fmt.Sprint(f.Value))
	}
	return args
}

// Binary runs the chain binary found at Path.
type Binary struct {
	Path string
	Env  []string
}

var _ Command = (*Binary)(nil)

func (b *Binary) Run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.Path, args...)
	cmd.Env = append(os.Environ(), b.Env...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.CombinedOutput()
	cleaned := clean(out)
	if err != nil {
		return cleaned, fmt.Errorf("%s %s: %w: %s", b.Path, strings.Join(args, " "), err, cleaned)
	}
	return cleaned, nil
}

// Start launches a long-running invocation, such as the node itself, with
// its output sent to w.
func (b *Binary) Start(ctx context.Context, w io.Writer, args ...string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, b.Path, args...)
	cmd.Env = append(os.Environ(), b.Env...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", b.Path, err)
	}
	return cmd, nil
}

// clean drops the allocator warnings some builds print and trims the rest.
func clean(out []byte) string {
	lines := bytes.Split(out, []byte("\n"))
	kept := lines[:0]
	for _, l := range lines {
		if !bytes.HasPrefix(l, []byte("<jemalloc>:")) {
			kept = append(kept, l)
		}
	}
	return strings.TrimSpace(string(bytes.Join(kept, []byte("\n"))))
}
