package plugin

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaPlugin adapts an embedded Lua script into a Plugin, giving the
// "pluggable analyses" hook point in the simulator a scriptable
// implementation without the core depending on any specific analysis.
//
// The script may define any of the global functions on_memory_load,
// on_memory_store, on_memory_atomic_store, on_work_group_barrier,
// on_kernel_begin, on_kernel_end, on_work_item_complete, and on_log; each
// is called with a table of the event's fields. Undefined hooks are
// simply skipped, matching the no-op-default capability-set contract the
// rest of the plugin bus follows.
type LuaPlugin struct {
	BasePlugin

	name string
	mu   sync.Mutex
	L    *lua.LState
}

// NewLuaPlugin loads script (Lua source text) into a fresh interpreter
// state. A Lua state cannot safely be called from multiple goroutines, so
// ThreadSafe always reports false.
func NewLuaPlugin(name, script string) (*LuaPlugin, error) {
	L := lua.NewState()
	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("plugin: load lua script %q: %w", name, err)
	}
	return &LuaPlugin{name: name, L: L}, nil
}

// Close releases the underlying Lua interpreter.
func (p *LuaPlugin) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.L.Close()
}

func (p *LuaPlugin) Name() string     { return p.name }
func (p *LuaPlugin) ThreadSafe() bool { return false }

func (p *LuaPlugin) call(fnName string, fields map[string]lua.LValue) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn := p.L.GetGlobal(fnName)
	if fn.Type() != lua.LTFunction {
		return
	}

	tbl := p.L.NewTable()
	for k, v := range fields {
		p.L.SetField(tbl, k, v)
	}

	if err := p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl); err != nil {
		p.L.SetGlobal("__oclgrind_last_error", lua.LString(err.Error()))
	}
}

func idFields(prefix string, id ID) map[string]lua.LValue {
	return map[string]lua.LValue{
		prefix + "_x": lua.LNumber(id[0]),
		prefix + "_y": lua.LNumber(id[1]),
		prefix + "_z": lua.LNumber(id[2]),
	}
}

func merge(dst map[string]lua.LValue, srcs ...map[string]lua.LValue) map[string]lua.LValue {
	for _, src := range srcs {
		for k, v := range src {
			dst[k] = v
		}
	}
	return dst
}

func (p *LuaPlugin) OnMemoryLoad(e MemoryEvent) {
	p.call("on_memory_load", merge(map[string]lua.LValue{
		"space":   lua.LString(e.Space.String()),
		"address": lua.LNumber(e.Address),
		"size":    lua.LNumber(e.Size),
	}, idFields("item", e.Origin.Item), idFields("group", e.Origin.Group)))
}

func (p *LuaPlugin) OnMemoryStore(e MemoryEvent) {
	p.call("on_memory_store", merge(map[string]lua.LValue{
		"space":   lua.LString(e.Space.String()),
		"address": lua.LNumber(e.Address),
		"size":    lua.LNumber(e.Size),
	}, idFields("item", e.Origin.Item), idFields("group", e.Origin.Group)))
}

func (p *LuaPlugin) OnMemoryAtomicStore(e AtomicEvent) {
	p.call("on_memory_atomic_store", map[string]lua.LValue{
		"space":   lua.LString(e.Space.String()),
		"address": lua.LNumber(e.Address),
		"op":      lua.LString(e.Op),
		"old":     lua.LNumber(e.Old),
		"new":     lua.LNumber(e.New),
	})
}

func (p *LuaPlugin) OnWorkGroupBarrier(e BarrierEvent) {
	p.call("on_work_group_barrier", idFields("group", e.Group))
}

func (p *LuaPlugin) OnKernelBegin(e KernelEvent) {
	p.call("on_kernel_begin", map[string]lua.LValue{"kernel": lua.LString(e.KernelName)})
}

func (p *LuaPlugin) OnKernelEnd(e KernelEvent) {
	p.call("on_kernel_end", map[string]lua.LValue{"kernel": lua.LString(e.KernelName)})
}

func (p *LuaPlugin) OnWorkItemComplete(e ItemEvent) {
	p.call("on_work_item_complete", merge(map[string]lua.LValue{
		"state": lua.LString(e.State),
	}, idFields("item", e.Item), idFields("group", e.Group)))
}

func (p *LuaPlugin) OnLog(kind MessageType, text string) {
	p.call("on_log", map[string]lua.LValue{
		"level": lua.LString(kind.String()),
		"text":  lua.LString(text),
	})
}
