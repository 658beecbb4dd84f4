package handlers

import (
	"image"

	"github.com/muandane/special-stack/thumbwall/internal/photowall"
)

// Pipeline is the part of *photowall.Controller the handlers drive.
type Pipeline interface {
	Post(fn func()) bool
	Call(fn func()) bool
	Key(url string) string
	RequestImageFor(slot, url string, onResult func(image.Image)) *photowall.Task
	Release(slot string)
	CancelAllTasks() int
	Flush()
	Stats() (photowall.Stats, bool)
}

var _ Pipeline = (*photowall.Controller)(nil)
