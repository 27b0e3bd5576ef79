package compiler

// maxLocals bounds the frame size of a single function.
const maxLocals = 1 << 16

// scope is one lexical block: the names it declares and the first slot it
// owns. Every slot at or above base is released when the scope closes.
type scope struct {
	names map[string]int
	base  int
}

// locals assigns frame slots for one function. Parameters take slots
// 0..arity-1, each let takes the next free slot, and a closed scope gives
// its slots back. high is the largest frame the function ever needed.
type locals struct {
	scopes []scope
	next   int
	high   int
}

func newLocals() *locals {
	return &locals{}
}

func (l *locals) push() {
	l.scopes = append(l.scopes, scope{names: make(map[string]int), base: l.next})
}

func (l *locals) pop() {
	top := l.scopes[len(l.scopes)-1]
	l.scopes = l.scopes[:len(l.scopes)-1]
	l.next = top.base
}

// declare binds name in the innermost scope. It reports false if the scope
// already binds it.
func (l *locals) declare(name string) (int, bool) {
	top := l.scopes[len(l.scopes)-1]
	if _, dup := top.names[name]; dup {
		return -1, false
	}
	slot := l.alloc()
	top.names[name] = slot
	return slot, true
}

// resolve finds name, innermost scope first.
func (l *locals) resolve(name string) (int, bool) {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		if slot, ok := l.scopes[i].names[name]; ok {
			return slot, true
		}
	}
	return -1, false
}

// temp reserves an unnamed slot. Release it with release once the value is
// dead; no declaration may happen in between.
func (l *locals) temp() int {
	return l.alloc()
}

func (l *locals) release(slot int) {
	l.next = slot
}

func (l *locals) alloc() int {
	slot := l.next
	l.next++
	if l.next > l.high {
		l.high = l.next
	}
	return slot
}
