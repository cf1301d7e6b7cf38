// Package reactive implements the document's field graph: named slots with
// generation stamps and a transactional undo journal that yields forward and
// reverse merge patches on commit.
package reactive
