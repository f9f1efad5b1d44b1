package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
)

// staticFiles serves files below root, with index.html for directories.
// Paths containing "/." or ".." are never served.
func staticFiles(root string) []fiber.Handler {
	return []fiber.Handler{
		rejectHiddenPaths,
		filesystem.New(filesystem.Config{
			Root:  http.Dir(root),
			Index: "index.html",
		}),
	}
}

func rejectHiddenPaths(c *fiber.Ctx) error {
	raw := string(c.Request().URI().PathOriginal())
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	for _, p := range []string{raw, c.Path()} {
		if strings.Contains(p, "/.") || strings.Contains(p, "..") {
			return fiber.ErrNotFound
		}
	}
	return c.Next()
}
