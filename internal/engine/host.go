package engine

import (
	"context"

	"github.com/banshee-data/shelfd/internal/shelf"
)

// Host operations are serialised through the consumer loop so they never
// interleave with a drain.

// DropStart marks a shelf as receiving a drop.
func (e *Engine) DropStart(ctx context.Context, shelfID string) error {
	var err error
	if derr := e.Do(ctx, func() { err = e.coord.OnDropStart(shelfID) }); derr != nil {
		return derr
	}
	return err
}

// DropEnd clears a shelf's drop flag without adding items.
func (e *Engine) DropEnd(ctx context.Context, shelfID string) error {
	var err error
	if derr := e.Do(ctx, func() { err = e.coord.OnDropEnd(shelfID) }); derr != nil {
		return derr
	}
	return err
}

// DropFiles adds paths to a shelf.
func (e *Engine) DropFiles(ctx context.Context, shelfID string, paths []string) ([]shelf.Item, error) {
	var (
		added []shelf.Item
		err   error
	)
	if derr := e.Do(ctx, func() { added, err = e.coord.OnFilesDropped(shelfID, paths) }); derr != nil {
		return nil, derr
	}
	return added, err
}

// RemoveItem removes one item from a shelf.
func (e *Engine) RemoveItem(ctx context.Context, shelfID, itemID string) error {
	var err error
	if derr := e.Do(ctx, func() { err = e.coord.RemoveItem(shelfID, itemID) }); derr != nil {
		return derr
	}
	return err
}

// SetPinned pins or unpins a shelf.
func (e *Engine) SetPinned(ctx context.Context, shelfID string, pinned bool) error {
	var err error
	if derr := e.Do(ctx, func() { err = e.coord.SetPinned(shelfID, pinned) }); derr != nil {
		return derr
	}
	return err
}

// CloseShelf destroys a shelf at the user's request.
func (e *Engine) CloseShelf(ctx context.Context, shelfID string) error {
	var err error
	if derr := e.Do(ctx, func() { err = e.coord.Close(shelfID) }); derr != nil {
		return derr
	}
	return err
}
