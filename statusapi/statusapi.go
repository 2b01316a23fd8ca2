// Package statusapi exposes a stream's aggregate task status over HTTP
// and one operator control: changing a running stream's processing-state
// goal. It has no ability to reconfigure the graph itself (no hot
// reconfiguration, per spec.md's Non-goals) — only to drive the tasks
// already wired into it through their existing state machine. Grounded
// on the teacher's pipe.go, which hosts its own "/health" endpoint on a
// fiber.App.
package statusapi

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sidecar-radar/pipeline"
)

// Server hosts the "/health" and "/streams/:id" status endpoints for one
// or more running streams.
type Server struct {
	app     *fiber.App
	streams map[string]*pipeline.Stream
}

// New creates a Server with no streams registered yet.
func New(config ...fiber.Config) *Server {
	app := fiber.New(config...)
	app.Use(recover.New())

	s := &Server{app: app, streams: map[string]*pipeline.Stream{}}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/streams", func(c *fiber.Ctx) error {
		names := make([]string, 0, len(s.streams))
		for id := range s.streams {
			names = append(names, id)
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"streams": names})
	})

	app.Get("/streams/:id", func(c *fiber.Ctx) error {
		stream, ok := s.streams[c.Params("id")]
		if !ok {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "no such stream"})
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"stream_id": stream.ID(),
			"running":   stream.Running(),
			"tasks":     stream.Status(),
		})
	})

	app.Post("/streams/:id/goal", func(c *fiber.Ctx) error {
		stream, ok := s.streams[c.Params("id")]
		if !ok {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "no such stream"})
		}

		var body struct {
			Goal string `json:"goal"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
		}

		goal, ok := pipeline.ParseProcessingState(body.Goal)
		if !ok {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": fmt.Sprintf("unknown goal %q", body.Goal)})
		}

		stream.SetGoal(goal)
		return c.Status(http.StatusAccepted).JSON(fiber.Map{"stream_id": stream.ID(), "goal": goal.String()})
	})

	return s
}

// Register adds or replaces the stream exposed under its own ID.
func (s *Server) Register(stream *pipeline.Stream) {
	s.streams[stream.ID()] = stream
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
