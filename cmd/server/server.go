// Package server exposes ExecuteTask/ResumeTask over HTTP using gin:
// a health endpoint, CORS middleware, and a grouped API namespace.
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskengine/internal/app"
)

// ServerCmd starts the HTTP surface for operator/integrator use.
var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API exposing the execution engine's two entry
points:

  POST /api/tasks/:id/execute
  POST /api/tasks/:id/resume

Both return {taskId, status}, the same fields the engine's in-process
callers get.`,
	RunE: runServer,
}

func init() {
	ServerCmd.Flags().Int("port", 8090, "port to listen on")
	ServerCmd.Flags().Bool("debug", false, "enable gin debug mode")
	_ = viper.BindPFlag("server.port", ServerCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.debug", ServerCmd.Flags().Lookup("debug"))
}

func runServer(cmd *cobra.Command, args []string) error {
	a, err := app.Build()
	if err != nil {
		return err
	}
	defer a.Close()

	if viper.GetBool("server.debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "taskengine"})
	})

	h := &handlers{app: a}
	api := router.Group("/api")
	{
		tasks := api.Group("/tasks")
		tasks.POST("/:id/execute", h.execute)
		tasks.POST("/:id/resume", h.resume)
		tasks.GET("/:id", h.show)
	}

	addr := viper.GetString("server.host")
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := viper.GetInt("server.port")
	a.Logger.Infof("listening on %s:%d", addr, port)
	return router.Run(addr + ":" + strconv.Itoa(port))
}
