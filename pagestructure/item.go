package pagestructure

import (
	"fmt"

	"github.com/vormadev/pagestree/kit/tasks"
)

type ItemKind uint8

const (
	Page ItemKind = iota
	API
)

func (k ItemKind) String() string {
	switch k {
	case Page:
		return "page"
	case API:
		return "api"
	default:
		return fmt.Sprintf("ItemKind(%d)", uint8(k))
	}
}

func (k ItemKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ItemKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "page":
		*k = Page
	case "api":
		*k = API
	default:
		return fmt.Errorf("pagestructure: unknown item kind %q", text)
	}
	return nil
}

// Item is a single route: a page or API source file together with the router
// path it serves.
type Item struct {
	Kind        ItemKind    `json:"kind"`
	ProjectPath string      `json:"projectPath"`
	RouterPath  string      `json:"routerPath"`
	Specificity Specificity `json:"specificity"`
}

type itemInput struct {
	ProjectPath string
	RouterPath  string
	Specificity Specificity
	IsAPI       bool
}

// ItemHandle is a lazy reference to an Item held by its directory node.
// Handles are comparable; two handles are equal when they describe the same
// route.
type ItemHandle struct {
	b  *Builder
	in itemInput
}

func (h ItemHandle) Get(c *tasks.Ctx) (Item, error) {
	if h.b == nil {
		return Item{}, ErrZeroValue
	}
	return h.b.item.Run(c, h.in)
}

func (h ItemHandle) Kind() ItemKind {
	if h.in.IsAPI {
		return API
	}
	return Page
}

func (h ItemHandle) ProjectPath() string { return h.in.ProjectPath }
func (h ItemHandle) RouterPath() string  { return h.in.RouterPath }

// RoutesChanged returns a token that changes whenever the item's router path
// is recomputed.
func (h ItemHandle) RoutesChanged(c *tasks.Ctx) (tasks.Completion, error) {
	if h.b == nil {
		return tasks.Completion{}, ErrZeroValue
	}
	return h.b.itemChanged.Run(c, h.in)
}

func (b *Builder) itemTask(_ *tasks.Ctx, in itemInput) (Item, error) {
	kind := Page
	if in.IsAPI {
		kind = API
	}
	return Item{
		Kind:        kind,
		ProjectPath: in.ProjectPath,
		RouterPath:  in.RouterPath,
		Specificity: in.Specificity,
	}, nil
}

func (b *Builder) itemChangedTask(c *tasks.Ctx, in itemInput) (tasks.Completion, error) {
	if _, err := b.item.Run(c, in); err != nil {
		return tasks.Completion{}, err
	}
	return tasks.NewCompletion(), nil
}
