package server

import (
	"fmt"
	"net/http"
	"time"
)

// handleStream serves the latest rendered frame as an MJPEG stream. A part is
// written only when the controller has published a new frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var sent uint64
	for {
		if data, seq := s.ctrl.Frame(); seq != sent && len(data) > 0 {
			if err := writePart(w, data); err != nil {
				s.logger.Debugw("stream client gone", "error", err)
				return
			}
			sent = seq
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
