// Package mcpserver implements the tool registry and the JSON-RPC method
// dispatcher. Tools are registered while the server is being assembled;
// once the registry is frozen the set is immutable for the server's
// running lifetime, so dispatch needs no lock on the tool table.
package mcpserver

import (
	"errors"
	"fmt"

	"github.com/edgemcp/device-server-go/mcp"
)

// DefaultRegistryCapacity bounds the number of tools a registry accepts.
const DefaultRegistryCapacity = 16

var (
	// ErrRegistryFull is returned by Register once capacity is reached.
	ErrRegistryFull = errors.New("mcpserver: tool registry full")

	// ErrDuplicateTool is returned by Register for an already-taken name.
	ErrDuplicateTool = errors.New("mcpserver: duplicate tool name")

	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("mcpserver: registry is frozen")
)

// Registry is a fixed-capacity, registration-ordered tool table. Not safe
// for concurrent registration; freeze it before sharing.
type Registry struct {
	capacity int
	tools    []StaticTool
	byName   map[string]int
	frozen   bool
}

// NewRegistry returns an empty registry with the given capacity; zero or
// negative means DefaultRegistryCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRegistryCapacity
	}
	return &Registry{
		capacity: capacity,
		tools:    make([]StaticTool, 0, capacity),
		byName:   make(map[string]int, capacity),
	}
}

// Register adds a tool. Fails on a duplicate name, a full registry, or a
// frozen registry.
func (r *Registry) Register(tool StaticTool) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	name := tool.Descriptor.Name
	if name == "" {
		return fmt.Errorf("mcpserver: tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("mcpserver: tool %q has no handler", name)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	if len(r.tools) >= r.capacity {
		return fmt.Errorf("%w (capacity %d)", ErrRegistryFull, r.capacity)
	}
	r.byName[name] = len(r.tools)
	r.tools = append(r.tools, tool)
	return nil
}

// Freeze makes the registry read-only. Idempotent.
func (r *Registry) Freeze() { r.frozen = true }

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Snapshot returns the tool descriptors in registration order.
func (r *Registry) Snapshot() []mcp.Tool {
	out := make([]mcp.Tool, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Descriptor
	}
	return out
}

// Lookup returns the tool registered under name, or false.
func (r *Registry) Lookup(name string) (StaticTool, bool) {
	i, ok := r.byName[name]
	if !ok {
		return StaticTool{}, false
	}
	return r.tools[i], true
}
