package animation

import (
	"errors"
	"fmt"
)

var ErrInvalidCommand = errors.New("invalid command")

const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionMove   = "move"
	ActionRotate = "rotate"
	ActionReset  = "reset"
)

func (c Command) Validate() error {
	if c.EntityID == "" || c.Action == "" {
		return fmt.Errorf("%w: missing required fields", ErrInvalidCommand)
	}
	return nil
}

// ApplyCommand returns the entity after cmd. Move and rotate are additive
// deltas so repeated commands compound.
func ApplyCommand(e Entity, cmd Command) Entity {
	switch cmd.NormalizedAction() {
	case ActionStart, ActionStop:
		return e.Clone()
	case ActionMove:
		out := e.Clone()
		out.Position = out.Position.Add(vectorParam(cmd.Params, "position"))
		return out
	case ActionRotate:
		out := e.Clone()
		out.Rotation = out.Rotation.Add(vectorParam(cmd.Params, "rotation"))
		return out
	case ActionReset:
		return e.Reset()
	default:
		out := e.Clone()
		out.Metadata["lastCommand"] = cmd.Action
		out.Metadata["lastCommandParams"] = cmd.Params
		out.Metadata["lastCommandTime"] = cmd.Timestamp
		return out
	}
}

// vectorParam reads params[key] as a delta; absent or non-numeric axes are 0.
func vectorParam(params map[string]any, key string) Vector3 {
	raw, ok := params[key].(map[string]any)
	if !ok {
		return ZeroVector
	}
	return Vector3{X: number(raw["x"]), Y: number(raw["y"]), Z: number(raw["z"])}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
