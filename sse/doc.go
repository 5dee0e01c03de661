// Package sse streams pipeline run events to HTTP clients as Server-Sent
// Events.
//
// A Hub owns the connected clients and routes frames to them by glob
// pattern over client IDs. Clients following one run are named with
// RunClientID and addressed with RunPattern.
//
//	hub := sse.NewHub()
//	go hub.Run()
//	router.GET("/runs/:id/events", func(c *gin.Context) {
//		id := c.Param("id")
//		sse.ServeSSE(hub, c.Writer, c.Request, sse.RunClientID(id, uuid.NewString()), nil, sse.WithRunID(id))
//	})
//	hub.Broadcast(sse.RunPattern(runID), frame)
package sse
