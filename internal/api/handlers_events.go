package api

import (
	"net/http"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/events"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	list, err := s.pipeline.ListMirror(r.Context(), events.MirrorFilter{
		Topic:  r.URL.Query().Get("topic"),
		Kind:   r.URL.Query().Get("kind"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	list, err := s.pipeline.ListDLQ(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dlq": list})
}

func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	kind := r.URL.Query().Get("kind")
	if topic == "" || kind == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "topic and kind query parameters are required")
		return
	}

	var payload map[string]interface{}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	data, _ := payload["data"].(map[string]interface{})
	if data == nil {
		data = payload
	}

	traceID, err := s.pipeline.Publish(r.Context(), topic, kind, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"trace_id": traceID})
}
