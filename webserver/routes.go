package webserver

func (web *WebServer) routes() {
	web.router.HandleFunc("/api/v1.0/sources", web.sourcesHdlr).Methods("GET")
	web.router.HandleFunc("/api/v1.0/source/{id}", web.sourceHdlr).Methods("GET")
	web.router.HandleFunc("/api/v1.0/preferences", web.preferencesHdlr)
	web.router.HandleFunc("/ws", web.webSocketHdlr)
}
