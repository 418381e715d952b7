package publisher

import (
	"sync"

	"github.com/pithecene-io/ipfs-publish/types"
)

// settlement is the terminal state of one publish.
type settlement struct {
	result *types.PublishResult
	err    error
	source string
}

// settler records the first terminal notification and ignores the rest.
type settler struct {
	once sync.Once
	done chan struct{}
	res  settlement
}

func newSettler() *settler {
	return &settler{done: make(chan struct{})}
}

// settle reports whether s was the winning notification.
func (s *settler) settle(res settlement) bool {
	won := false
	s.once.Do(func() {
		s.res = res
		won = true
		close(s.done)
	})
	return won
}

// Done is closed once a settlement has been recorded.
func (s *settler) Done() <-chan struct{} {
	return s.done
}

// Result returns the winning settlement. Only valid after Done is closed.
func (s *settler) Result() settlement {
	<-s.done
	return s.res
}
