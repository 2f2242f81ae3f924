// Package localcmd implements the "//"-prefixed local protocol command
// hook (§4.4): lines a session receives that start with "//" never
// reach the backend. Instead they're dispatched into a small
// Lua-scriptable command table an operator can extend without a
// rebuild, the direct generalization of the teacher's rune._* host
// function bridge to a much narrower surface (no UI, no timers, no
// reconnect — a local command can only read its arguments and reply).
package localcmd

import (
	"fmt"
	"os"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	glua "github.com/yuin/gopher-lua"
)

// Host is the bridge a local command script needs into its owning
// session.
type Host interface {
	// Reply writes text back to the client issuing the command. It
	// never touches the backend link.
	Reply(text string)
}

// Engine is one Lua VM dedicated to a single session's local commands.
// Like the teacher's per-client Engine, it is not safe for concurrent
// use — it is only ever called from the owning session's own actor
// goroutine.
type Engine struct {
	l          *glua.LState
	regexCache *lru.Cache[string, *regexp.Regexp]
	runeTable  *glua.LTable
	commands   *glua.LTable
	host       Host
}

// New builds an Engine bound to host. Nothing is loaded until Init is
// called.
func New(host Host) *Engine {
	cache, _ := lru.New[string, *regexp.Regexp](64)
	return &Engine{regexCache: cache, host: host}
}

// Init creates the Lua state and, if initPath names a readable file,
// loads it. The file is expected to populate rune.commands with
// name -> function(args) entries; its absence is not an error — a
// session simply has no local commands available.
func (e *Engine) Init(initPath string) error {
	e.l = glua.NewState()
	e.runeTable = e.l.NewTable()
	e.l.SetGlobal("rune", e.runeTable)

	e.commands = e.l.NewTable()
	e.l.SetField(e.runeTable, "commands", e.commands)

	e.registerHostFuncs()
	e.registerRegexFuncs()

	if initPath == "" {
		return nil
	}
	content, err := os.ReadFile(initPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", initPath, err)
	}
	if err := e.l.DoString(string(content)); err != nil {
		return fmt.Errorf("executing %s: %w", initPath, err)
	}
	return nil
}

// Close releases the Lua state. Safe to call on an Engine that was
// never Init'd.
func (e *Engine) Close() {
	if e.l != nil {
		e.l.Close()
	}
}

// Dispatch looks up name in rune.commands and calls it with args if
// found. handled reports whether a command was registered for name, so
// the caller can decide how to treat an unknown command.
func (e *Engine) Dispatch(name, args string) (handled bool, err error) {
	if e.l == nil {
		return false, nil
	}
	fn := e.l.GetField(e.commands, name)
	if fn == glua.LNil {
		return false, nil
	}
	if callErr := e.l.CallByParam(glua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, glua.LString(args)); callErr != nil {
		return true, callErr
	}
	return true, nil
}

func (e *Engine) registerHostFuncs() {
	e.l.SetField(e.runeTable, "_reply", e.l.NewFunction(func(L *glua.LState) int {
		e.host.Reply(L.CheckString(1))
		return 0
	}))
}

func (e *Engine) registerRegexFuncs() {
	regexTable := e.l.NewTable()
	e.l.SetField(e.runeTable, "_regex", regexTable)

	e.l.SetField(regexTable, "match", e.l.NewFunction(func(L *glua.LState) int {
		pattern := L.CheckString(1)
		text := L.CheckString(2)

		re, ok := e.regexCache.Get(pattern)
		if !ok {
			var err error
			re, err = regexp.Compile(pattern)
			if err != nil {
				L.Push(glua.LNil)
				L.Push(glua.LString(err.Error()))
				return 2
			}
			e.regexCache.Add(pattern, re)
		}

		matches := re.FindStringSubmatch(text)
		if matches == nil {
			L.Push(glua.LNil)
			return 1
		}
		tbl := L.NewTable()
		for i, m := range matches {
			tbl.RawSetInt(i+1, glua.LString(m))
		}
		L.Push(tbl)
		return 1
	}))
}
