package webserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dh1tw/gaplessAudio/source"
	"github.com/gorilla/mux"
)

// PreferencesMsg is the REST representation of the live preferences.
// Fields which are nil in a PUT request keep their value.
type PreferencesMsg struct {
	BufferTime            *int64 `json:"bufferTime,omitempty"` // milliseconds
	LoudnessNormalization *bool  `json:"loudnessNormalization,omitempty"`
	SilenceTrimming       *bool  `json:"silenceTrimming,omitempty"`
}

func (web *WebServer) webSocketHdlr(w http.ResponseWriter, req *http.Request) {

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		web.log.Warn().Err(err).Str("remote", req.RemoteAddr).Msg("unable to open websocket")
		return
	}

	wsClient := &wsClient{
		ws:     conn,
		remote: req.RemoteAddr,
		json:   req.URL.Query().Get("format") == "json",
		send:   make(chan []byte, web.options.SendBuffer),
		web:    web,
	}

	select {
	case web.addWsClient <- wsClient:
	case <-web.quit:
		conn.Close()
		return
	}

	go wsClient.write()
	go wsClient.read()
}

func (web *WebServer) sourcesHdlr(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	if err := json.NewEncoder(w).Encode(web.backend.Sources()); err != nil {
		web.log.Error().Err(err).Msg("unable to encode sources")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("500 - unable to encode sources"))
	}
}

func (web *WebServer) sourceHdlr(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	vars := mux.Vars(req)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("400 - invalid source id"))
		return
	}

	info, ok := web.backend.Source(source.SourceID(id))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("404 - source not found"))
		return
	}

	if err := json.NewEncoder(w).Encode(info); err != nil {
		web.log.Error().Err(err).Msg("unable to encode source")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("500 - unable to encode source"))
	}
}

func (web *WebServer) preferencesHdlr(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	switch req.Method {
	case "GET":
		if err := json.NewEncoder(w).Encode(toPreferencesMsg(web.backend.Preferences())); err != nil {
			web.log.Error().Err(err).Msg("unable to encode preferences")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("500 - unable to encode preferences"))
		}

	case "PUT":
		var msg PreferencesMsg
		dec := json.NewDecoder(req.Body)

		if err := dec.Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("400 - invalid JSON"))
			return
		}

		p := web.backend.Preferences()
		if msg.BufferTime != nil {
			p.BufferTime = time.Duration(*msg.BufferTime) * time.Millisecond
		}
		if msg.LoudnessNormalization != nil {
			p.LoudnessNormalization = *msg.LoudnessNormalization
		}
		if msg.SilenceTrimming != nil {
			p.SilenceTrimming = *msg.SilenceTrimming
		}

		if err := web.backend.SetPreferences(p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("400 - " + err.Error()))
			return
		}
		json.NewEncoder(w).Encode(toPreferencesMsg(p))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func toPreferencesMsg(p source.Preferences) PreferencesMsg {
	bt := p.BufferTime.Milliseconds()
	ln := p.LoudnessNormalization
	st := p.SilenceTrimming
	return PreferencesMsg{
		BufferTime:            &bt,
		LoudnessNormalization: &ln,
		SilenceTrimming:       &st,
	}
}
