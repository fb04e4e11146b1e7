//go:build !swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
)

// MountSwagger does nothing in builds without the swagger tag.
func MountSwagger(r chi.Router) {}
