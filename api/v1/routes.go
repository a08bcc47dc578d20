package v1

import "github.com/gin-gonic/gin"

// ServerInterface lists every operation exposed under /api/v1.
type ServerInterface interface {
	Connect(c *gin.Context)
	Disconnect(c *gin.Context)
	GetConnectionStatus(c *gin.Context)

	StartCollection(c *gin.Context)
	CancelCollection(c *gin.Context)
	GetCollectorStatus(c *gin.Context)

	ListJobs(c *gin.Context)
	GetJob(c *gin.Context)

	QueryFiles(c *gin.Context)
	DeleteFiles(c *gin.Context)

	StreamEvents(c *gin.Context)
}

// RegisterHandlers wires the operations into the router group.
func RegisterHandlers(router *gin.RouterGroup, si ServerInterface) {
	router.PUT("/connection", si.Connect)
	router.DELETE("/connection", si.Disconnect)
	router.GET("/connection", si.GetConnectionStatus)

	router.POST("/collector", si.StartCollection)
	router.DELETE("/collector", si.CancelCollection)
	router.GET("/collector", si.GetCollectorStatus)

	router.GET("/jobs", si.ListJobs)
	router.GET("/jobs/:id", si.GetJob)

	router.POST("/files/query", si.QueryFiles)
	router.POST("/files/delete", si.DeleteFiles)

	router.GET("/events", si.StreamEvents)
}
