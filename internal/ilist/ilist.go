// Package ilist implements an intrusive doubly linked list.
//
// Nodes embed a Link and expose it through the Links method, so membership
// costs no extra allocation and a node can unlink itself in O(1) given only
// the list it is on. Whole lists can be spliced in O(1).
//
// A node may be on at most one list at a time. Lists are not safe for
// concurrent use.
package ilist

// Link is embedded in list nodes.
type Link[T any] struct {
	prev, next *T
	linked     bool
}

// Linked is the constraint satisfied by *T when T embeds a Link[T].
type Linked[T any] interface {
	*T
	Links() *Link[T]
}

// IsLinked reports whether the node is currently on a list.
func (l *Link[T]) IsLinked() bool { return l.linked }

// List is a doubly linked list of *T.
type List[T any, P Linked[T]] struct {
	head, tail P
	n          int
}

// Len returns the number of nodes.
func (l *List[T, P]) Len() int { return l.n }

// Empty reports whether the list has no nodes.
func (l *List[T, P]) Empty() bool { return l.n == 0 }

// Front returns the first node, or nil.
func (l *List[T, P]) Front() P { return l.head }

// Back returns the last node, or nil.
func (l *List[T, P]) Back() P { return l.tail }

// Next returns the node after n, or nil.
func (l *List[T, P]) Next(n P) P { return P(n.Links().next) }

// PushBack appends n.
func (l *List[T, P]) PushBack(n P) {
	lk := n.Links()
	lk.prev, lk.next, lk.linked = (*T)(l.tail), nil, true
	if l.tail != nil {
		l.tail.Links().next = (*T)(n)
	} else {
		l.head = n
	}
	l.tail = n
	l.n++
}

// PushFront prepends n.
func (l *List[T, P]) PushFront(n P) {
	lk := n.Links()
	lk.prev, lk.next, lk.linked = nil, (*T)(l.head), true
	if l.head != nil {
		l.head.Links().prev = (*T)(n)
	} else {
		l.tail = n
	}
	l.head = n
	l.n++
}

// Remove unlinks n, which must be on l.
func (l *List[T, P]) Remove(n P) {
	lk := n.Links()
	if lk.prev != nil {
		P(lk.prev).Links().next = lk.next
	} else {
		l.head = P(lk.next)
	}
	if lk.next != nil {
		P(lk.next).Links().prev = lk.prev
	} else {
		l.tail = P(lk.prev)
	}
	lk.prev, lk.next, lk.linked = nil, nil, false
	l.n--
}

// PopFront removes and returns the first node, or nil.
func (l *List[T, P]) PopFront() P {
	n := l.head
	if n != nil {
		l.Remove(n)
	}
	return n
}

// Append moves every node of other to the end of l, leaving other empty.
func (l *List[T, P]) Append(other *List[T, P]) {
	if other.head == nil {
		return
	}
	if l.tail == nil {
		l.head = other.head
	} else {
		l.tail.Links().next = (*T)(other.head)
		other.head.Links().prev = (*T)(l.tail)
	}
	l.tail = other.tail
	l.n += other.n
	other.head, other.tail, other.n = nil, nil, 0
}

// All calls fn for each node in order. fn may remove the node it is given.
func (l *List[T, P]) All(fn func(P) bool) {
	for n := l.head; n != nil; {
		next := P(n.Links().next)
		if !fn(n) {
			return
		}
		n = next
	}
}

// Reset empties the list without touching the nodes. Only for lists whose
// nodes are being discarded or re-linked wholesale.
func (l *List[T, P]) Reset() {
	l.head, l.tail, l.n = nil, nil, 0
}
