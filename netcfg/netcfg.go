// Package netcfg assigns IP settings to adapters through the host's
// external configuration tool.
package netcfg

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

// Configurator applies a static IPv4 address to an adapter.
type Configurator interface {
	ApplyIPv4(ctx context.Context, id swiftypes.AdapterIdentity, cfg swiftypes.IPConfig) error
}

// Renamer is implemented by configurators that can change an adapter's
// friendly name.
type Renamer interface {
	Rename(ctx context.Context, id swiftypes.AdapterIdentity, name string) error
}

// Tool drives an external program. Args and RenameArgs build the command
// line for each request; a nil RenameArgs means the tool cannot rename.
type Tool struct {
	Path       string
	Args       func(id swiftypes.AdapterIdentity, cfg swiftypes.IPConfig) ([]string, error)
	RenameArgs func(id swiftypes.AdapterIdentity, name string) []string
	Log        *slog.Logger
}

// Netsh configures adapters with Windows netsh.
func Netsh(path string) *Tool {
	if path == "" {
		path = "netsh"
	}
	return &Tool{
		Path: path,
		Args: func(id swiftypes.AdapterIdentity, cfg swiftypes.IPConfig) ([]string, error) {
			return []string{
				"interface", "ipv4", "set", "address",
				"name=" + id.FriendlyName,
				"source=static",
				"address=" + cfg.Address.String(),
				"mask=" + cfg.Mask.String(),
			}, nil
		},
		RenameArgs: func(id swiftypes.AdapterIdentity, name string) []string {
			return []string{"interface", "set", "interface", "name=" + id.FriendlyName, "newname=" + name}
		},
	}
}

// IPRoute configures adapters with iproute2.
func IPRoute(path string) *Tool {
	if path == "" {
		path = "ip"
	}
	return &Tool{
		Path: path,
		Args: func(id swiftypes.AdapterIdentity, cfg swiftypes.IPConfig) ([]string, error) {
			bits, err := cfg.PrefixLen()
			if err != nil {
				return nil, err
			}
			return []string{"addr", "replace", cfg.Address.String() + "/" + strconv.Itoa(bits), "dev", id.FriendlyName}, nil
		},
		RenameArgs: func(id swiftypes.AdapterIdentity, name string) []string {
			return []string{"link", "set", "dev", id.FriendlyName, "name", name}
		},
	}
}

// ApplyIPv4 validates cfg and runs the tool. A malformed address or mask
// never reaches the tool.
func (t *Tool) ApplyIPv4(ctx context.Context, id swiftypes.AdapterIdentity, cfg swiftypes.IPConfig) error {
	if err := cfg.Validate(); err != nil {
		return swiftypes.NewError("set ip", id.InstanceID, swiftypes.ErrConfigurationFailed, err)
	}
	args, err := t.Args(id, cfg)
	if err != nil {
		return swiftypes.NewError("set ip", id.InstanceID, swiftypes.ErrConfigurationFailed, err)
	}
	return t.run(ctx, "set ip", id, args)
}

func (t *Tool) Rename(ctx context.Context, id swiftypes.AdapterIdentity, name string) error {
	if t.RenameArgs == nil {
		return swiftypes.Errorf("rename", id.InstanceID, swiftypes.ErrNotImplemented, "%s cannot rename adapters", t.Path)
	}
	if name == "" {
		return swiftypes.Errorf("rename", id.InstanceID, swiftypes.ErrConfigurationFailed, "empty name")
	}
	return t.run(ctx, "rename", id, t.RenameArgs(id, name))
}

func (t *Tool) run(ctx context.Context, op string, id swiftypes.AdapterIdentity, args []string) error {
	cmd := exec.CommandContext(ctx, t.Path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return swiftypes.Errorf(op, id.InstanceID, swiftypes.ErrConfigurationFailed,
			"%s %s: %w, output: %s", t.Path, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	if t.Log != nil {
		t.Log.Debug("adapter reconfigured", "op", op, "instance", id.InstanceID, "tool", t.Path, "args", args)
	}
	return nil
}
