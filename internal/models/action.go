package models

// Action is an entry of the static action taxonomy (collection, manufacturing, ...).
type Action struct {
	ID       int64  `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Category string `yaml:"category" json:"category"`
}

// Taxonomy indexes actions by id.
type Taxonomy struct {
	byID   map[int64]Action
	sorted []Action
}

func NewTaxonomy(actions []Action) *Taxonomy {
	t := &Taxonomy{byID: make(map[int64]Action, len(actions))}
	for _, a := range actions {
		t.byID[a.ID] = a
	}
	t.sorted = append([]Action(nil), actions...)
	return t
}

// Lookup returns the action with the given id.
func (t *Taxonomy) Lookup(id int64) (Action, bool) {
	if t == nil {
		return Action{}, false
	}
	a, ok := t.byID[id]
	return a, ok
}

// Actions returns the actions in configuration order.
func (t *Taxonomy) Actions() []Action {
	if t == nil {
		return nil
	}
	return append([]Action(nil), t.sorted...)
}
