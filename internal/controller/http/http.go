package http

import (
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"imu_apiserver/internal/manager"
	"imu_apiserver/internal/sensor"
	"math"
	"net/http"
	"strconv"
)

type controller struct {
	manager manager.Manager
}

type statusResponse struct {
	Status bool   `json:"status"`
	Err    string `json:"err"`
}

func (c *controller) respondStatus(ctx *gin.Context, err error) {
	resp := statusResponse{Status: c.manager.Running()}
	code := http.StatusOK
	if err != nil {
		resp.Err = err.Error()
		code = http.StatusInternalServerError
	}
	ctx.JSON(code, resp)
}

func (c *controller) start(ctx *gin.Context) {
	c.respondStatus(ctx, c.manager.Start())
}

func (c *controller) stop(ctx *gin.Context) {
	c.respondStatus(ctx, c.manager.Stop())
}

// sampleBody flattens a sample into the accx..yaw fields. NaN and infinities have
// no JSON number form and are sent as the strings "NaN", "+Inf" and "-Inf".
func sampleBody(s sensor.Sample) gin.H {
	fields := s.Fields()
	body := make(gin.H, len(fields))
	for i, name := range sensor.FieldNames {
		v := float64(fields[i])
		text := strconv.FormatFloat(v, 'g', -1, 32)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			body[name] = text
			continue
		}
		body[name] = json.Number(text)
	}
	return body
}

func (c *controller) sample(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, sampleBody(c.manager.Latest()))
}

func (c *controller) status(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.manager.Status())
}

func (c *controller) devices(ctx *gin.Context) {
	probe := ctx.Query("probe") == "true"
	var (
		ids []string
		err error
	)
	if probe {
		ids, err = c.manager.ProbeDev()
	} else {
		ids, err = c.manager.ListDev()
	}
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"devices": ids})
}

// NewRouter exposes the manager over HTTP and serves the process metrics
func NewRouter(m manager.Manager, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(ctx *gin.Context) {
		ctx.Next()
		log.Debugf("%s %s %d", ctx.Request.Method, ctx.Request.URL.Path, ctx.Writer.Status())
	})

	c := &controller{manager: m}
	v1 := r.Group("/v1")
	{
		v1.GET("/sample", c.sample)
		v1.GET("/status", c.status)
		v1.GET("/devices", c.devices)
		v1.POST("/start", c.start)
		v1.POST("/stop", c.stop)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
