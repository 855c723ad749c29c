// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tree

import "fmt"

// Direction is the side a sibling sits on relative to the path being walked
type Direction uint8

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	if d == Left {
		return "Left"
	}
	return "Right"
}

// PathItem is a sibling of a node on the path from the root to a leaf
type PathItem struct {
	Direction Direction
	Index     int
}

// Walker visits the siblings on the path from the root down to a target leaf, using
// only index arithmetic on the postorder layout.
type Walker struct {
	current int
	size    int
	target  int
}

// NewWalker panics if target is not a leaf of the tree
func NewWalker(t *Tree, target int) *Walker {
	if target < 0 || target >= t.Leaves() {
		panic(fmt.Sprintf("tree: leaf %d out of range for %d leaves", target, t.Leaves()))
	}
	return &Walker{
		current: t.Len() - 1,
		size:    t.Leaves(),
		target:  target,
	}
}

// Next returns the next sibling, or false once the walker has reached the leaf
func (w *Walker) Next() (PathItem, bool) {
	if w.size <= 1 {
		return PathItem{}, false
	}
	lsize := leftSize(w.size)
	rsize := w.size - lsize
	right := w.current - 1
	left := w.current - 2*rsize
	if w.target < lsize {
		w.current = left
		w.size = lsize
		return PathItem{Direction: Right, Index: right}, true
	}
	w.current = right
	w.size = rsize
	w.target -= lsize
	return PathItem{Direction: Left, Index: left}, true
}

// Path collects every sibling from the root down to the target leaf
func Path(t *Tree, target int) []PathItem {
	w := NewWalker(t, target)
	var items []PathItem
	for {
		item, ok := w.Next()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}
