package web

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/shopspring/decimal"

	"gift-floors/models"
	"gift-floors/services"
	"gift-floors/storage"
	"gift-floors/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

// Snapshots maps each source name to the store its latest rows are read from.
type Snapshots map[string]storage.RowReader

// Server is a read-only dashboard over the latest snapshots.
type Server struct {
	app       *fiber.App
	snapshots Snapshots
	primary   string
	logger    *utils.Logger
}

// NewServer builds the dashboard. primary is the source shown by default and
// used as the left side of comparisons.
func NewServer(snapshots Snapshots, primary string, logger *utils.Logger) *Server {
	sub, _ := fs.Sub(templateFS, "templates")
	engine := html.NewFileSystem(http.FS(sub), ".html")

	s := &Server{snapshots: snapshots, primary: primary, logger: logger}
	s.app = fiber.New(fiber.Config{
		Views:                 engine,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("[web] %s %s: %v", c.Method(), c.Path(), err)
			}
			return c.Status(code).JSON(fiber.Map{"error": http.StatusText(code)})
		},
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.accessLog)

	s.app.Get("/", s.index)
	s.app.Get("/compare", s.compare)
	s.app.Get("/api/rows", s.apiRows)
	s.app.Get("/api/compare", s.apiCompare)
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.logger.Info("[web] Dashboard listening on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("[web] %s %s → %d (%v) rid=%v",
		c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start).Round(time.Microsecond),
		c.Locals("requestid"))
	return err
}

// load returns the rows of source, or nil and false when no snapshot exists yet.
func (s *Server) load(source string) ([]models.Row, bool, error) {
	reader, ok := s.snapshots[source]
	if !ok {
		return nil, false, fiber.NewError(fiber.StatusNotFound, "unknown source")
	}
	rows, err := reader.ReadRows()
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (s *Server) source(c *fiber.Ctx) string {
	return c.Query("source", s.primary)
}

// other picks the comparison partner for the primary source.
func (s *Server) other() (string, bool) {
	for name := range s.snapshots {
		if name != s.primary {
			return name, true
		}
	}
	return "", false
}

func (s *Server) apiRows(c *fiber.Ctx) error {
	rows, found, err := s.load(s.source(c))
	if err != nil {
		return err
	}
	if !found {
		return fiber.NewError(fiber.StatusNotFound, "snapshot not available")
	}
	return c.JSON(rows)
}

func (s *Server) comparison() ([]models.ComparisonRow, string, error) {
	other, ok := s.other()
	if !ok {
		return nil, "", fiber.NewError(fiber.StatusNotFound, "no second source configured")
	}
	a, foundA, err := s.load(s.primary)
	if err != nil {
		return nil, "", err
	}
	b, foundB, err := s.load(other)
	if err != nil {
		return nil, "", err
	}
	if !foundA || !foundB {
		return nil, "", fiber.NewError(fiber.StatusNotFound, "snapshot not available")
	}
	return services.Compare(a, b), other, nil
}

func (s *Server) apiCompare(c *fiber.Ctx) error {
	rows, _, err := s.comparison()
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

type rowView struct {
	Gift, Model, Rarity, Price, StickerID string
}

func (s *Server) index(c *fiber.Ctx) error {
	source := s.source(c)
	rows, found, err := s.load(source)
	if err != nil {
		return err
	}

	views := make([]rowView, 0, len(rows))
	priced := 0
	for _, r := range rows {
		price := "—"
		if r.Price != nil {
			price = r.Price.String()
			priced++
		}
		views = append(views, rowView{Gift: r.Gift, Model: r.Model, Rarity: r.RarityPerMille, Price: price, StickerID: r.StickerID})
	}

	return c.Render("index", fiber.Map{
		"Source":  source,
		"Sources": s.snapshots,
		"Found":   found,
		"Rows":    views,
		"Total":   len(rows),
		"Priced":  priced,
	})
}

type comparisonView struct {
	Gift, Model, PriceA, PriceB, Diff, DiffPct string
}

func (s *Server) compare(c *fiber.Ctx) error {
	rows, other, err := s.comparison()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) && fe.Code == fiber.StatusNotFound {
			return c.Render("compare", fiber.Map{"Primary": s.primary, "Other": other, "Message": fe.Message})
		}
		return err
	}

	views := make([]comparisonView, 0, len(rows))
	for _, r := range rows {
		views = append(views, comparisonView{
			Gift: r.Gift, Model: r.Model,
			PriceA: orDash(r.PriceA), PriceB: orDash(r.PriceB),
			Diff: orDash(r.Diff), DiffPct: orDash(r.DiffPct),
		})
	}
	return c.Render("compare", fiber.Map{"Primary": s.primary, "Other": other, "Rows": views})
}

func orDash(v *decimal.Decimal) string {
	if v == nil {
		return "—"
	}
	return v.String()
}
