// Package inspect serves a read-only HTTP view of a simulated bring-up: the
// objects the kernel holds, the untyped watermarks, the invocation log and
// the initializer's report.
package inspect

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/auth"
	"github.com/danmuck/capinit/internal/initializer"
	"github.com/danmuck/capinit/internal/kernel/sim"
	"github.com/danmuck/capinit/internal/observability"
)

// Kernel is what the server reads from.
type Kernel interface {
	Objects() []sim.ObjectInfo
	ObjectInfo(id int) (sim.ObjectInfo, bool)
	Untypeds() []sim.UntypedInfo
	Invocations() []sim.Invocation
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	kernel Kernel
	report *initializer.Report
	router *gin.Engine
}

// Options configure the server. A non-empty Token requires every request
// except /health to carry it as a bearer token.
type Options struct {
	CorsOrigins []string
	Token       string
}

func New(id, addr string, k Kernel, report *initializer.Report, opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if opts.Token != "" {
		r.Use(auth.Middleware(auth.Token(opts.Token), "/health"))
	}

	s := &Server{ID: id, Addr: addr, Appeared: time.Now(), kernel: k, report: report, router: r}
	s.RegisterRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) Serve() error {
	log.Info().Str("addr", s.Addr).Msg("inspect.Server.Serve listening")
	return s.router.Run(s.Addr)
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/objects", func(c *gin.Context) {
		objects := s.kernel.Objects()
		if t := c.Query("type"); t != "" {
			filtered := objects[:0:0]
			for _, o := range objects {
				if o.Type == t {
					filtered = append(filtered, o)
				}
			}
			objects = filtered
		}
		c.JSON(http.StatusOK, gin.H{"objects": objects, "count": len(objects)})
	})

	r.GET("/objects/:id", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "object id must be an integer"})
			return
		}
		obj, ok := s.kernel.ObjectInfo(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		c.JSON(http.StatusOK, obj)
	})

	r.GET("/untyped", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"untyped": s.kernel.Untypeds()})
	})

	r.GET("/invocations", func(c *gin.Context) {
		invocations := s.kernel.Invocations()
		op := c.Query("op")
		failed := c.Query("failed") == "true"
		out := make([]sim.Invocation, 0, len(invocations))
		for _, inv := range invocations {
			if op != "" && inv.Op != op {
				continue
			}
			if failed && inv.Err == "" {
				continue
			}
			out = append(out, inv)
		}
		c.JSON(http.StatusOK, gin.H{"invocations": out, "count": len(out)})
	})

	r.GET("/report", func(c *gin.Context) {
		if s.report == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no report"})
			return
		}
		c.JSON(http.StatusOK, summarize(s.report))
	})
}

// Summary is the JSON form of an initializer report.
type Summary struct {
	Creations        int    `json:"creations"`
	PopulatedSlots   int    `json:"populated_slots"`
	Mappings         int    `json:"mappings"`
	Copies           int    `json:"copies"`
	Inflations       int    `json:"inflations"`
	Zeroings         int    `json:"zeroings"`
	FillBytes        int    `json:"fill_bytes"`
	RegistersWritten int    `json:"registers_written"`
	Started          int    `json:"started"`
	SlotsUsed        int    `json:"slots_used"`
	TraceEvents      int    `json:"trace_events"`
	UntypedTotal     uint64 `json:"untyped_total"`
	UntypedUsed      uint64 `json:"untyped_used"`
	UntypedFree      uint64 `json:"untyped_free"`
}

func summarize(r *initializer.Report) Summary {
	return Summary{
		Creations:        r.Creations,
		PopulatedSlots:   r.PopulatedSlots,
		Mappings:         r.Mappings,
		Copies:           r.Copies,
		Inflations:       r.Inflations,
		Zeroings:         r.Zeroings,
		FillBytes:        r.FillBytes,
		RegistersWritten: r.RegistersWritten,
		Started:          r.Started,
		SlotsUsed:        r.SlotsUsed,
		TraceEvents:      len(r.Trace),
		UntypedTotal:     uint64(r.Untyped.Total),
		UntypedUsed:      uint64(r.Untyped.Used),
		UntypedFree:      uint64(r.Untyped.Free),
	}
}

// normalizeOrigins trims blanks and trailing slashes and drops duplicates.
func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	seen := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
