package tasks

import (
	"fmt"
	"sync/atomic"
)

var completionSeq atomic.Uint64

// Completion is a content-free token returned by change-notification tasks.
// It carries no data; only its identity matters. A memoized task that returns
// NewCompletion() hands out the same token until one of its dependencies
// changes, so comparing two tokens with Same answers "did anything observed
// change in between".
type Completion struct {
	id uint64
}

func NewCompletion() Completion {
	return Completion{id: completionSeq.Add(1)}
}

func (c Completion) Same(other Completion) bool {
	return c.id == other.id
}

func (c Completion) IsZero() bool {
	return c.id == 0
}

func (c Completion) String() string {
	return fmt.Sprintf("completion#%d", c.id)
}
