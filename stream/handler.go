package stream

import (
	"bufio"

	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/ovenworks/bakeops/internal/nilcheck"
)

// keepAliveComment is written immediately on connect so EventSource clients
// and intermediaries see traffic before the first broadcast.
const keepAliveComment = ": connected\n\n"

// LiveHandler serves the tenant-scoped live event stream. The connection is
// registered with the fan-out manager for its lifetime and removed only when
// the transport closes.
//
// Route shape: GET /stores/:tenantId/live
func LiveHandler(manager *Manager, logger libLog.Logger) fiber.Handler {
	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	return func(c *fiber.Ctx) error {
		tenantID := c.Params("tenantId")
		if tenantID == "" {
			return fiber.NewError(fiber.StatusBadRequest, ErrTenantRequired.Error())
		}

		conn, err := NewConnection(tenantID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := manager.AddClient(tenantID, conn); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")

		ctx := c.UserContext()

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer manager.RemoveClient(tenantID, conn)
			defer conn.Close()

			if err := writeAndFlush(w, []byte(keepAliveComment)); err != nil {
				return
			}

			for {
				select {
				case frame := <-conn.Frames():
					if err := writeAndFlush(w, frame); err != nil {
						logger.Log(ctx, libLog.LevelDebug, "live stream transport closed",
							libLog.String("tenant_id", tenantID),
							libLog.Err(err),
						)

						return
					}

				case <-conn.Done():
					return
				}
			}
		}))

		return nil
	}
}

func writeAndFlush(w *bufio.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}

	return w.Flush()
}
