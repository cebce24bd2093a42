// Package api provides the REST API server for chiptune2midi
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/chiptune-tools/chiptune2midi/pkg/loader"
	"github.com/chiptune-tools/chiptune2midi/pkg/trace"
	"github.com/chiptune-tools/chiptune2midi/pkg/transcribe"
	"github.com/chiptune-tools/chiptune2midi/pkg/translog"
)

// @title chiptune2midi API
// @version 1.0
// @description API for transcribing NES/SPC chiptune traces into General MIDI
// @host localhost:8080
// @BasePath /api/v1

// StartServer starts the API server on the specified port
func StartServer(port int) error {
	r := gin.Default()

	r.Use(corsMiddleware())

	r.GET("/health", healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.POST("/transcribe/nsf", handleTranscribe(loader.FormatNSF))
		v1.POST("/transcribe/spc", handleTranscribe(loader.FormatSPC))
		v1.POST("/transcribe/trace", handleTranscribeTrace)
		v1.GET("/formats", listFormats)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r.Run(fmt.Sprintf(":%d", port))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "chiptune2midi",
	})
}

// listFormats godoc
// @Summary List supported input formats
// @Description Returns a list of chip formats this service can transcribe
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /api/v1/formats [get]
func listFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"formats": []string{"nsf", "spc", "trace"},
	})
}

// handleTranscribe godoc
// @Summary Transcribe a register-write trace into MIDI for a given chip family
// @Description Upload a JSON-lines observer trace and receive a Type-1 SMF file
// @Tags transcribe
// @Accept multipart/form-data
// @Produce audio/midi
// @Param file formData file true "trace file to transcribe"
// @Param sidecar formData file false "optional .n2m/.spm remap sidecar"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Router /api/v1/transcribe/nsf [post]
func handleTranscribe(format loader.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := translog.New()
		tr, err := loader.NewTranscriber(format, log)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTranscription(c, tr)
	}
}

// handleTranscribeTrace godoc
// @Summary Transcribe an NES or SPC trace, chip family given by the "chip" form field
// @Tags transcribe
// @Accept multipart/form-data
// @Produce audio/midi
// @Param file formData file true "trace file to transcribe"
// @Param chip formData string true "nes or spc"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Router /api/v1/transcribe/trace [post]
func handleTranscribeTrace(c *gin.Context) {
	log := translog.New()
	var tr *transcribe.Transcriber
	switch strings.ToLower(c.PostForm("chip")) {
	case "nes":
		tr = transcribe.NewNES(log)
	case "spc":
		tr = transcribe.NewSPC(log)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "chip must be \"nes\" or \"spc\""})
		return
	}
	runTranscription(c, tr)
}

func runTranscription(c *gin.Context, tr *transcribe.Transcriber) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no trace file uploaded"})
		return
	}
	defer func() { _ = file.Close() }()

	events, err := trace.ReadEvents(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if sidecarFile, _, err := c.Request.FormFile("sidecar"); err == nil {
		defer func() { _ = sidecarFile.Close() }()
		tr.LoadSidecar(sidecarFile)
	}

	if err := trace.Play(events, tr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	smf, err := tr.SMFBytes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	outputName := strings.TrimSuffix(header.Filename, ".trace") + ".mid"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", outputName))
	c.Data(http.StatusOK, "audio/midi", smf)
}
