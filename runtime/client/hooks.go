package client

import (
	"context"

	"github.com/satishbabariya/aegis/runtime/types"
)

// HookContext is handed to plugin hooks. Before-hooks may mutate Args to
// rewrite the outgoing query; after-hooks may inspect Result, but replacing
// it does not change what the caller receives.
// Hooks observe errors but cannot suppress them.
type HookContext struct {
	Model     string
	Operation string
	Args      types.Record
	Result    interface{}
	Err       error
}

// Plugin extends the client with before/after hooks around queries and
// mutations. Hooks run synchronously in registration order.
type Plugin struct {
	Name           string
	BeforeQuery    func(ctx context.Context, hc *HookContext) error
	AfterQuery     func(ctx context.Context, hc *HookContext)
	BeforeMutation func(ctx context.Context, hc *HookContext) error
	AfterMutation  func(ctx context.Context, hc *HookContext)
}

type pluginEntry struct {
	id     int
	plugin Plugin
}

// Use registers a plugin and returns its id for Unuse.
func (c *Client) Use(p Plugin) int {
	c.nextPluginID++
	c.plugins = append(c.plugins, pluginEntry{id: c.nextPluginID, plugin: p})
	return c.nextPluginID
}

// Unuse removes the plugin with the given id.
func (c *Client) Unuse(id int) {
	for i, entry := range c.plugins {
		if entry.id == id {
			c.plugins = append(c.plugins[:i], c.plugins[i+1:]...)
			return
		}
	}
}

// UnuseAll removes every plugin.
func (c *Client) UnuseAll() {
	c.plugins = nil
}

func (c *Client) runBefore(ctx context.Context, hc *HookContext, mutation bool) error {
	for _, entry := range c.plugins {
		var fn func(context.Context, *HookContext) error
		if mutation {
			fn = entry.plugin.BeforeMutation
		} else {
			fn = entry.plugin.BeforeQuery
		}
		if fn == nil {
			continue
		}
		if err := fn(ctx, hc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) runAfter(ctx context.Context, hc *HookContext, mutation bool) {
	for _, entry := range c.plugins {
		var fn func(context.Context, *HookContext)
		if mutation {
			fn = entry.plugin.AfterMutation
		} else {
			fn = entry.plugin.AfterQuery
		}
		if fn != nil {
			fn(ctx, hc)
		}
	}
}
