package models

import (
	"encoding/json"
	"fmt"
)

// NestedAction is the editor's tree shape of an action: sequential lists,
// with condition actions owning YesActions/NoActions sub-lists.
type NestedAction struct {
	ID         string          `json:"id,omitempty"`
	Type       ActionType      `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
	YesActions []NestedAction  `json:"yesActions,omitempty"`
	NoActions  []NestedAction  `json:"noActions,omitempty"`
}

// BuildArena flattens a nested action list into an arena with next_id and
// yes/no head pointers. IDs are kept when present and generated otherwise.
// A condition must be the last action of its list.
func BuildArena(steps []NestedAction) ([]Action, string, error) {
	b := &arenaBuilder{seen: make(map[string]bool)}
	head, err := b.list(steps, "s")
	if err != nil {
		return nil, "", err
	}
	return b.actions, head, nil
}

type arenaBuilder struct {
	actions []Action
	seen    map[string]bool
}

func (b *arenaBuilder) list(steps []NestedAction, prefix string) (string, error) {
	if len(steps) == 0 {
		return "", nil
	}

	ids := make([]string, len(steps))
	for i, s := range steps {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("%s%d", prefix, i+1)
		}
		if b.seen[id] {
			return "", fmt.Errorf("duplicate action id: %s", id)
		}
		b.seen[id] = true
		ids[i] = id
	}

	for i, s := range steps {
		if s.Type == ActionCondition && i != len(steps)-1 {
			return "", fmt.Errorf("condition %s must be the last action of its branch", ids[i])
		}

		cfg, err := DecodeActionConfig(s.Type, s.Config)
		if err != nil {
			return "", fmt.Errorf("action %s: %w", ids[i], err)
		}

		action := Action{ID: ids[i], Type: s.Type}
		if i+1 < len(steps) {
			action.NextID = ids[i+1]
		}

		if cond, ok := cfg.(ConditionAction); ok {
			yes, err := b.list(s.YesActions, ids[i]+".yes.")
			if err != nil {
				return "", err
			}
			no, err := b.list(s.NoActions, ids[i]+".no.")
			if err != nil {
				return "", err
			}
			cond.YesHeadID = yes
			cond.NoHeadID = no
			cfg = cond
		} else if len(s.YesActions) > 0 || len(s.NoActions) > 0 {
			return "", fmt.Errorf("action %s of type %s cannot own branches", ids[i], s.Type)
		}

		action.Config = cfg
		b.actions = append(b.actions, action)
	}

	return ids[0], nil
}
