package chat

// Model is a selectable Gemini model.
type Model struct {
	Name string `json:"name" toml:"name"`
	ID   string `json:"id" toml:"id"`
}

// Catalog is the ordered set of models a session may bind.
type Catalog []Model

func DefaultCatalog() Catalog {
	return Catalog{
		{Name: "Gemini 1.5 Flash", ID: "gemini-1.5-flash"},
		{Name: "Gemini 1.5 Flash-8B", ID: "gemini-1.5-flash-8b"},
		{Name: "Gemini 1.5 Pro", ID: "gemini-1.5-pro"},
	}
}

// Lookup accepts either the model ID or its display name.
func (c Catalog) Lookup(key string) (Model, bool) {
	for _, m := range c {
		if m.ID == key || m.Name == key {
			return m, true
		}
	}
	return Model{}, false
}
