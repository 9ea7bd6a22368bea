package management

import "sync"

// feed fans published values out to one synchronous handler and any
// number of buffered channel subscribers. Subscribers that fall behind
// lose their oldest values; publish never blocks on them.
type feed[T any] struct {
	mu      sync.RWMutex
	handler func(T)
	subs    map[int]chan T
	nextID  int
}

func (f *feed[T]) setHandler(fn func(T)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *feed[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[int]chan T)
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (f *feed[T]) publish(v T) {
	f.mu.RLock()
	handler := f.handler
	for _, ch := range f.subs {
		offer(ch, v)
	}
	f.mu.RUnlock()

	if handler != nil {
		handler(v)
	}
}

// offer delivers v, evicting the oldest buffered value when ch is full.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
