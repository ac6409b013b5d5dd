// script_hook.go - Lua automation callbacks

/*
▄▄▄█████▓▓█████  ███▄ ▄███▓ ██▓███    ██████ ▓█████  ███▄    █   ██████ ▓█████
▓  ██▒ ▓▒▓█   ▀ ▓██▒▀█▀ ██▒▓██░  ██▒▒██    ▒ ▓█   ▀  ██ ▀█   █ ▒██    ▒ ▓█   ▀
▒ ▓██░ ▒░▒███   ▓██    ▓██░▓██░ ██▓▒░ ▓██▄   ▒███   ▓██  ▀█ ██▒░ ▓██▄   ▒███
░ ▓██▓ ░ ▒▓█  ▄ ▒██    ▒██ ▒██▄█▓▒ ▒  ▒   ██▒▒▓█  ▄ ▓██▒  ▐▌██▒  ▒   ██▒▒▓█  ▄
  ▒██▒ ░ ░▒████▒▒██▒   ░██▒▒██▒ ░  ░▒██████▒▒░▒████▒▒██░   ▓██░▒██████▒▒░▒████▒
  ▒ ░░   ░░ ▒░ ░░ ▒░   ░  ░▒▓▒░ ░  ░▒ ▒▓▒ ▒ ░░░ ▒░ ░░ ▒░   ▒ ▒ ▒ ▒▓▒ ▒ ░░░ ▒░ ░
    ░     ░ ░  ░░  ░      ░░▒ ░     ░ ░▒  ░ ░ ░ ░  ░░ ░░   ░ ▒░░ ░▒  ░ ░ ░ ░  ░
  ░         ░   ░      ░   ░░       ░  ░  ░     ░      ░   ░ ░ ░  ░  ░     ░
            ░  ░       ░                  ░     ░  ░         ░       ░     ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/TempSenseVR/TempSense-GUI
License: GPLv3 or later
*/

package main

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ScriptHook runs an optional Lua automation script. Two globals are
// recognised:
//
//	on_reading(device, metric, value) -> nil | false | number
//	on_alert(device, value, limit)
//
// on_reading may veto a reading (false) or rewrite its value (number); any
// other return keeps it unchanged. A script error disables the hook for the
// rest of the run; it never crashes the engine.
//
// Not safe for concurrent use. The application loop is the only caller.
type ScriptHook struct {
	state      *lua.LState
	log        *zap.Logger
	disabled   bool
	hasReading bool
	hasAlert   bool
}

func NewScriptHook(path string, log *zap.Logger) (*ScriptHook, error) {
	state := lua.NewState()
	if err := state.DoFile(path); err != nil {
		state.Close()
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	h := &ScriptHook{
		state:      state,
		log:        log.Named("script"),
		hasReading: state.GetGlobal("on_reading") != lua.LNil,
		hasAlert:   state.GetGlobal("on_alert") != lua.LNil,
	}
	h.log.Info("loaded", zap.String("path", path),
		zap.Bool("on_reading", h.hasReading), zap.Bool("on_alert", h.hasAlert))
	return h, nil
}

func (h *ScriptHook) disable(err error) {
	h.disabled = true
	h.log.Error("script error, hook disabled", zap.Error(err))
}

// OnReading filters one reading through the script. The second return is
// false when the script vetoed it.
func (h *ScriptHook) OnReading(r SensorReading) (SensorReading, bool) {
	if h == nil || h.disabled || !h.hasReading {
		return r, true
	}
	fn := h.state.GetGlobal("on_reading")
	err := h.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LString(r.DeviceID), lua.LString(r.Metric.String()), lua.LNumber(r.Value()))
	if err != nil {
		h.disable(err)
		return r, true
	}
	ret := h.state.Get(-1)
	h.state.Pop(1)

	switch v := ret.(type) {
	case lua.LBool:
		if !bool(v) {
			return r, false
		}
	case lua.LNumber:
		r.Raw = rawForValue(float64(v))
	}
	return r, true
}

// OnAlert notifies the script of a fired alert.
func (h *ScriptHook) OnAlert(device string, value, limit float64) {
	if h == nil || h.disabled || !h.hasAlert {
		return
	}
	fn := h.state.GetGlobal("on_alert")
	err := h.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
		lua.LString(device), lua.LNumber(value), lua.LNumber(limit))
	if err != nil {
		h.disable(err)
	}
}

func (h *ScriptHook) Close() {
	if h != nil && h.state != nil {
		h.state.Close()
	}
}

func init() {
	compiledFeatures = append(compiledFeatures, "script:lua")
}
