package session

import (
	"context"
	"fmt"

	"animstream/internal/app/ports"
	"animstream/internal/domain/animation"
)

// executeCommand validates, records and applies one animation command.
// The command enters the history before the entity changes.
func (a *Actor) executeCommand(ctx context.Context, clientID string, p CommandPayload) error {
	cmd := animation.Command{
		ID:        a.deps.NewID(),
		EntityID:  p.CharacterID,
		Action:    p.Action,
		Params:    p.Params,
		Duration:  p.Duration,
		Timestamp: a.nowMillis(),
	}
	if cmd.Params == nil {
		cmd.Params = map[string]any{}
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	entity, ok := a.entities[cmd.EntityID]
	if !ok {
		return fmt.Errorf("%w: character with ID %s not found", ErrEntityNotFound, cmd.EntityID)
	}

	a.pushCommand(ctx, cmd)

	updated := animation.ApplyCommand(entity, cmd)
	a.entities[updated.ID] = updated
	a.mutated()
	a.deps.Metrics.RecordCommand(cmd.NormalizedAction())

	a.record(ctx, LogCommandExecuted, commandMessage(cmd, entity.Name), map[string]any{
		"commandId":   cmd.ID,
		"characterId": cmd.EntityID,
		"action":      cmd.Action,
		"clientId":    clientID,
	})
	a.broadcast(MessageCharacterUpdate, updated, nil)
	return nil
}

func commandMessage(cmd animation.Command, entityName string) string {
	switch cmd.NormalizedAction() {
	case animation.ActionStart:
		return fmt.Sprintf("Start command executed on character %s", entityName)
	case animation.ActionStop:
		return fmt.Sprintf("Stop command executed on character %s", entityName)
	case animation.ActionMove:
		return fmt.Sprintf("Move command executed on character %s", entityName)
	case animation.ActionRotate:
		return fmt.Sprintf("Rotate command executed on character %s", entityName)
	case animation.ActionReset:
		return fmt.Sprintf("Reset command executed on character %s", entityName)
	default:
		return fmt.Sprintf("Custom command %q executed on character %s", cmd.Action, entityName)
	}
}

func (a *Actor) addEntity(ctx context.Context, p animation.EntityPatch) (animation.Entity, error) {
	id := p.ID
	if id == "" {
		id = a.deps.NewID()
	}
	if _, exists := a.entities[id]; exists {
		return animation.Entity{}, fmt.Errorf("%w: character %s already exists", ports.ErrConflict, id)
	}
	e, err := animation.NewEntity(id, p)
	if err != nil {
		return animation.Entity{}, err
	}
	a.entities[id] = e
	a.mutated()
	a.record(ctx, LogEntityAdded, fmt.Sprintf("Character %s added", e.Name), map[string]any{"characterId": id})
	a.broadcast(MessageCharacterUpdate, e, nil)
	return e, nil
}

func (a *Actor) updateEntity(ctx context.Context, id string, p animation.EntityPatch) (animation.Entity, error) {
	if id == "" {
		return animation.Entity{}, fmt.Errorf("%w: character id is required", ErrInvalidRequest)
	}
	current, ok := a.entities[id]
	if !ok {
		return animation.Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	updated := current.Merge(p)
	a.entities[id] = updated
	a.mutated()
	a.record(ctx, LogEntityUpdated, fmt.Sprintf("Character %s updated", updated.Name), map[string]any{"characterId": id})
	a.broadcast(MessageCharacterUpdate, updated, nil)
	return updated, nil
}

func (a *Actor) removeEntity(ctx context.Context, id string) error {
	e, ok := a.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	delete(a.entities, id)
	a.mutated()
	a.record(ctx, LogEntityRemoved, fmt.Sprintf("Character %s removed", e.Name), map[string]any{"characterId": id})
	a.broadcast(MessageCharacterUpdate, removedPayload{ID: id, Removed: true}, nil)
	return nil
}
