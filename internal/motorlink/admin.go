package motorlink

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!DOCTYPE html>
<html><head><title>motorlink</title></head>
<body>
<form method="post" action="send-command-api">
<input name="command" placeholder="C 120 120 0 0" autofocus>
<button type="submit">send</button>
</form>
<p>Opcode letter followed by its arguments, e.g. <code>C 100 -100</code>, <code>M 500 500</code>, <code>I0</code>, <code>s</code>.</p>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => { tail.textContent += e.data + "\n"; };
</script>
</body></html>
`))

// ParseCommand parses the text form used by the debug console: an opcode
// letter followed by whitespace-separated integer arguments. Emergency-stop
// and other raw commands take their suffix verbatim.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Command{}, fmt.Errorf("empty command")
	}
	op := Opcode(s[0])
	rest := strings.TrimSpace(s[1:])
	fields := strings.Fields(rest)

	switch op {
	case OpDrive, OpDriveStaged, OpServo, OpResetEncoders:
		if len(fields) > ShortArgs {
			return Command{}, fmt.Errorf("%s takes at most %d arguments", op, ShortArgs)
		}
		args := make([]int16, ShortArgs)
		for i, f := range fields {
			v, err := strconv.ParseInt(f, 10, 16)
			if err != nil {
				return Command{}, fmt.Errorf("argument %d: %w", i+1, err)
			}
			args[i] = int16(v)
		}
		return Command{Opcode: op, Short: args}, nil
	case OpMoveCounts:
		if len(fields) > LongArgs {
			return Command{}, fmt.Errorf("%s takes at most %d arguments", op, LongArgs)
		}
		args := make([]int32, LongArgs)
		for i, f := range fields {
			v, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return Command{}, fmt.Errorf("argument %d: %w", i+1, err)
			}
			args[i] = int32(v)
		}
		return Command{Opcode: op, Long: args}, nil
	case OpEmergencyStop:
		if rest != "0" && rest != "1" {
			return Command{}, fmt.Errorf("%s takes 0 or 1", op)
		}
	case OpConnect, OpDisconnect:
		return Command{}, fmt.Errorf("%s is managed by the link", op)
	}
	return Command{Opcode: op, Raw: []byte(rest)}, nil
}

// AttachAdminRoutes attaches debugging endpoints to the given HTTP mux
// served at /debug/.
func (l *Link) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the motor controller", func(w http.ResponseWriter, r *http.Request) {
		if err := sendCommandTemplate.Execute(w, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		cmd, err := ParseCommand(r.FormValue("command"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply, err := l.Exchange(cmd)
		if err != nil {
			http.Error(w, fmt.Sprintf("command %s failed: %v", cmd, err), http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("sent %s, reply %q", cmd, reply))
	})

	debug.HandleFunc("link", "motor controller link counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(l.Stats())
	})

	// Server-Sent Events of every frame sent and reply received.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := l.Subscribe()
		defer l.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
